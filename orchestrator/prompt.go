package orchestrator

import (
	"fmt"
	"strings"

	"github.com/BaSui01/dialogueflow/config"
)

// renderSystemPrompt 渲染参与者的系统提示：
// 角色提示模板（{topic} / {content} 占位符）+ 人设块 + 语言风格与字数约束。
func renderSystemPrompt(ch *config.Character, disc config.DiscussionConfig, req config.ResponseRequirements) string {
	prompt := strings.ReplaceAll(ch.Prompt, "{topic}", disc.Topic)
	prompt = strings.ReplaceAll(prompt, "{content}", disc.Content)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))

	b.WriteString("\n\n你的角色设定：")
	fmt.Fprintf(&b, "\n姓名：%s", ch.Name)
	fmt.Fprintf(&b, "\n定位：%s", ch.Role)
	if len(ch.Personality) > 0 {
		fmt.Fprintf(&b, "\n性格：%s", ch.Personality.Join())
	}
	if len(ch.Interests) > 0 {
		fmt.Fprintf(&b, "\n兴趣：%s", ch.Interests.Join())
	}
	if ch.Background != "" {
		fmt.Fprintf(&b, "\n背景：%s", ch.Background)
	}

	style := ch.LanguageStyle
	fmt.Fprintf(&b, "\n\n语言风格：语气%s，正式程度%s，用词%s", style.Tone, style.Formality, style.Vocabulary)
	if style.UseEmoji != nil && *style.UseEmoji {
		b.WriteString("，可以适当使用表情符号")
	}

	if disc.Background != "" {
		fmt.Fprintf(&b, "\n\n讨论背景：%s", disc.Background)
	}

	if req.Length.Max > 0 {
		fmt.Fprintf(&b, "\n\n每次回复字数控制在%d到%d字之间。", req.Length.Min, req.Length.Max)
	}

	return b.String()
}

// characterDescription 取角色提示渲染后的首行作为名册中的角色描述。
func characterDescription(ch *config.Character, disc config.DiscussionConfig) string {
	prompt := strings.ReplaceAll(ch.Prompt, "{topic}", disc.Topic)
	prompt = strings.ReplaceAll(prompt, "{content}", disc.Content)
	prompt = strings.TrimSpace(prompt)
	if i := strings.IndexByte(prompt, '\n'); i >= 0 {
		return strings.TrimSpace(prompt[:i])
	}
	return prompt
}
