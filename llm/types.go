package llm

import (
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息，顺序即对话顺序。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 是发往 OpenAI 兼容聊天接口的请求体。
// 生成参数为零值时由 json omitempty 省略。
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	Temperature      float32   `json:"temperature,omitempty"`
	FrequencyPenalty float32   `json:"frequency_penalty,omitempty"`
	PresencePenalty  float32   `json:"presence_penalty,omitempty"`
}

// ChatUsage 表示响应中的 token 用量。
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatChoice 表示响应中的单个选项。
type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

// ChatResponse 是 OpenAI 兼容聊天接口的响应体。
type ChatResponse struct {
	ID      string       `json:"id,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

// CreatedAt 返回响应创建时间，未提供时为零值。
func (r *ChatResponse) CreatedAt() time.Time {
	if r.Created == 0 {
		return time.Time{}
	}
	return time.Unix(r.Created, 0)
}

// FirstContent 返回 choices[0].message.content。
// 响应缺少有效选项时返回 false，由调用方决定降级策略。
func (r *ChatResponse) FirstContent() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	content := r.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	return content, true
}
