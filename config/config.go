package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 dialogueflow 的完整配置结构。
// Load + Validate 之后视为不可变，按引用传入各组件构造函数。
type Config struct {
	// Dialogue 对话配置
	Dialogue DialogueConfig `yaml:"dialogue"`

	// Discussion 讨论主题配置
	Discussion DiscussionConfig `yaml:"discussion"`

	// ResponseRequirements 回复要求
	ResponseRequirements ResponseRequirements `yaml:"response_requirements"`

	// Evaluation 评估配置
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Performance 性能配置
	Performance PerformanceConfig `yaml:"performance" env:"PERFORMANCE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// DialogueConfig 对话配置
type DialogueConfig struct {
	// 对话轮数
	Rounds int `yaml:"rounds"`
	// 输出配置
	Output OutputConfig `yaml:"output"`
	// 角色配置
	Characters CharacterSet `yaml:"characters"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// 对话记录输出目录
	Directory string `yaml:"directory"`
}

// CharacterSet 角色集合。
// Instances 按角色 ID 索引；Order 保留 YAML 中的声明顺序，
// 对话轮次严格按该顺序轮流发言。
type CharacterSet struct {
	Instances map[string]*Character `yaml:"-"`
	Order     []string              `yaml:"-"`
}

// UnmarshalYAML 解析 characters 段并保留 instances 的声明顺序。
// yaml.v3 解码为 map 会丢失键序，这里直接遍历映射节点。
func (c *CharacterSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("characters 必须是映射")
	}

	c.Instances = make(map[string]*Character)
	c.Order = nil

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "instances" {
			continue
		}
		instances := node.Content[i+1]
		if instances.Kind != yaml.MappingNode {
			return fmt.Errorf("characters.instances 必须是映射")
		}
		for j := 0; j+1 < len(instances.Content); j += 2 {
			id := instances.Content[j].Value
			ch := &Character{}
			if err := instances.Content[j+1].Decode(ch); err != nil {
				return fmt.Errorf("解析角色 %s 失败: %w", id, err)
			}
			c.Instances[id] = ch
			c.Order = append(c.Order, id)
		}
	}

	return nil
}

// Character 单个对话角色（参与者）配置。
type Character struct {
	// 显示名称
	Name string `yaml:"name"`
	// 角色定位
	Role string `yaml:"role"`
	// 性格（字符串或字符串列表）
	Personality StringList `yaml:"personality"`
	// 兴趣（字符串或字符串列表）
	Interests StringList `yaml:"interests"`
	// 背景介绍
	Background string `yaml:"background"`
	// 语言风格
	LanguageStyle LanguageStyle `yaml:"language_style"`
	// 模型标识，形如 "DEEPSEEK/deepseek-chat"，斜杠前缀决定凭证提供商
	Model string `yaml:"model"`
	// 系统提示模板，支持 {topic} / {content} 占位符
	Prompt string `yaml:"prompt"`
	// 生成参数（可选，缺省使用 DefaultModelConfig）
	ModelConfig *ModelConfig `yaml:"model_config"`
}

// LanguageStyle 语言风格配置。
// UseEmoji 使用指针以区分"未配置"与"配置为 false"。
type LanguageStyle struct {
	Tone       string `yaml:"tone"`
	Formality  string `yaml:"formality"`
	Vocabulary string `yaml:"vocabulary"`
	UseEmoji   *bool  `yaml:"use_emoji"`
}

// ModelConfig 生成参数。
type ModelConfig struct {
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float32 `yaml:"temperature"`
	FrequencyPenalty float32 `yaml:"frequency_penalty"`
	PresencePenalty  float32 `yaml:"presence_penalty"`
}

// StringList 接受标量或序列两种 YAML 写法。
type StringList []string

// UnmarshalYAML 实现标量/序列双形态解析。
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*s = StringList(items)
		return nil
	default:
		return fmt.Errorf("期望字符串或字符串列表")
	}
}

// Join 以逗号连接各项，用于提示词渲染。
func (s StringList) Join() string {
	return strings.Join([]string(s), ", ")
}

// DiscussionConfig 讨论主题配置。
type DiscussionConfig struct {
	Topic      string `yaml:"topic"`
	Background string `yaml:"background"`
	Content    string `yaml:"content"`
}

// ResponseRequirements 回复要求。
type ResponseRequirements struct {
	Length LengthRange `yaml:"length"`
}

// LengthRange 回复长度区间（字数）。
type LengthRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// EvaluationConfig 评估配置。
type EvaluationConfig struct {
	// 是否启用评估；false 时评估器为 no-op
	Enabled bool `yaml:"enabled"`
	// 评估模型标识
	Model string `yaml:"model"`
	// 评估者角色
	Character EvalCharacter `yaml:"character"`
	// 评估维度
	Metrics []string `yaml:"metrics"`
	// 输出格式要求
	OutputFormat OutputFormat `yaml:"output_format"`
}

// EvalCharacter 评估者角色配置。
type EvalCharacter struct {
	Name string `yaml:"name"`
	// 评估提示模板，支持 {dialogue} / {metrics} / {score_format} / {comment_format} 占位符
	Prompt string `yaml:"prompt"`
}

// OutputFormat 评估输出格式要求。
type OutputFormat struct {
	Scores   ScoreFormat   `yaml:"scores"`
	Comments CommentFormat `yaml:"comments"`
}

// ScoreFormat 评分格式。
type ScoreFormat struct {
	Range  [2]int             `yaml:"range"`
	Weight map[string]float64 `yaml:"weight"`
}

// CommentFormat 评语格式。
type CommentFormat struct {
	RequiredAspects []string `yaml:"required_aspects"`
	MaxLength       int      `yaml:"max_length"`
}

// PerformanceConfig 性能配置。
type PerformanceConfig struct {
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 传输层重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
	// 每后端每分钟请求数上限，0 表示不限流
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 监控告警阈值
	Monitoring MonitoringConfig `yaml:"monitoring"`
	// 连接池限制
	Pool PoolConfig `yaml:"pool"`
}

// RetryConfig 重试策略配置。
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MinWait     time.Duration `yaml:"min_wait" env:"MIN_WAIT"`
	MaxWait     time.Duration `yaml:"max_wait" env:"MAX_WAIT"`
	Multiplier  float64       `yaml:"multiplier" env:"MULTIPLIER"`
}

// MonitoringConfig 监控配置。
type MonitoringConfig struct {
	AlertThresholds AlertThresholds `yaml:"alert_thresholds"`
}

// AlertThresholds 告警阈值，超过时记录 warn 日志。
type AlertThresholds struct {
	// 错误率上限（0-1）
	ErrorRate float64 `yaml:"error_rate"`
	// 平均延迟上限
	AvgLatency time.Duration `yaml:"avg_latency"`
}

// PoolConfig 每后端 HTTP 连接池限制。
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Character 按角色 ID 返回角色配置。
func (c *Config) Character(id string) (*Character, bool) {
	ch, ok := c.Dialogue.Characters.Instances[id]
	return ch, ok
}

// GenerationParams 返回角色的生成参数，缺省使用 DefaultModelConfig。
func (ch *Character) GenerationParams() ModelConfig {
	if ch.ModelConfig != nil {
		return *ch.ModelConfig
	}
	return DefaultModelConfig()
}
