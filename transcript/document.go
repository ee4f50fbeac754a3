package transcript

import (
	"fmt"
	"strings"
	"time"
)

// 文档分节标记。写入与解析共用同一组常量：标记字符串是磁盘格式
// 契约的一部分（v1），评估器按 SectionDialogue 提取对话内容，
// 变更任何标记都意味着格式版本升级。
const (
	SectionHeader     = "## 对话记录"
	SectionRoster     = "## 对话角色"
	SectionDialogue   = "## 对话内容"
	SectionEvaluation = "## 评估结果"
)

const timeLayout = "2006-01-02 15:04:05"

// RosterEntry 角色名册条目。
type RosterEntry struct {
	// 显示名称
	Name string
	// 角色描述（取自角色提示词首行）
	Description string
	// 后端模型标识
	Model string
}

// Entry 一条对话记录。
type Entry struct {
	// 发言者角色 ID（用于视图重标注，不写入磁盘）
	SpeakerID string
	// 发言者显示名称
	SpeakerName string
	// 发言内容
	Content string
}

// Document 对话记录文档。
// 由编排器独占持有；对外唯一视图是 Render 产出的序列化文本。
type Document struct {
	CreatedAt  time.Time
	RunID      string
	Topic      string
	Background string
	Roster     []RosterEntry
	Entries    []Entry
	Evaluation string
}

// Render 将文档渲染为 Markdown 文本。
// 分节顺序固定：记录头 → 角色名册 → 对话内容 → 评估结果（可选）。
func (d *Document) Render() string {
	var b strings.Builder

	b.WriteString(SectionHeader)
	b.WriteString("\n")
	fmt.Fprintf(&b, "时间：%s\n", d.CreatedAt.Format(timeLayout))
	if d.RunID != "" {
		fmt.Fprintf(&b, "运行：%s\n", d.RunID)
	}
	fmt.Fprintf(&b, "主题：%s\n", d.Topic)
	fmt.Fprintf(&b, "背景：%s\n", d.Background)

	b.WriteString("\n")
	b.WriteString(SectionRoster)
	b.WriteString("\n")
	for i, r := range d.Roster {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n角色描述：%s\n模型：%s\n", r.Name, r.Description, r.Model)
	}

	b.WriteString("\n")
	b.WriteString(SectionDialogue)
	b.WriteString("\n")
	for i, e := range d.Entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s\n", e.SpeakerName, e.Content)
	}

	if d.Evaluation != "" {
		b.WriteString("\n")
		b.WriteString(SectionEvaluation)
		b.WriteString("\n")
		b.WriteString(d.Evaluation)
		b.WriteString("\n")
	}

	return b.String()
}

// Sections 按标记切分文档文本，返回 标记 → 节体 的映射。
// 未知标记的节原样保留，标记行本身不计入节体。
func Sections(text string) map[string]string {
	sections := make(map[string]string)
	lines := strings.Split(text, "\n")

	current := ""
	var body []string
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimRight(strings.Join(body, "\n"), "\n")
		}
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimRight(line, " ")
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()

	return sections
}

// ExtractDialogue 从序列化文本中提取对话内容节体。
// 节缺失时返回错误，避免把记录头或评估结果误送给评估后端。
func ExtractDialogue(text string) (string, error) {
	sections := Sections(text)
	dialogue, ok := sections[SectionDialogue]
	if !ok {
		return "", fmt.Errorf("文档缺少分节 %q", SectionDialogue)
	}
	return strings.TrimSpace(dialogue), nil
}

// ParseEntries 从对话内容节体解析出各条发言。
// 每条发言以 "[名称] " 开头，后续不带前缀的行并入上一条（多行发言）。
func ParseEntries(dialogue string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(dialogue, "\n") {
		if strings.HasPrefix(line, "[") {
			if end := strings.Index(line, "] "); end > 0 {
				entries = append(entries, Entry{
					SpeakerName: line[1:end],
					Content:     line[end+2:],
				})
				continue
			}
		}
		if len(entries) > 0 && strings.TrimSpace(line) != "" {
			entries[len(entries)-1].Content += "\n" + line
		}
	}
	return entries
}
