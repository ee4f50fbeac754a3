package evaluator

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/dialogueflow/client"
	"github.com/BaSui01/dialogueflow/config"
	"github.com/BaSui01/dialogueflow/internal/metrics"
	"github.com/BaSui01/dialogueflow/llm"
	"github.com/BaSui01/dialogueflow/transcript"
)

// ResultSkipped 是评估未启用时 Evaluate 的固定返回值。
const ResultSkipped = "评估已跳过：评估功能未启用"

// failurePrefix 拼在最终失败结果前，编排器照常持久化该文本。
const failurePrefix = "评估失败："

// RequiredSections 是合格评估结果必须包含的分节标记（v1 契约）。
// 缺少任一标记按可重试失败处理。
var RequiredSections = []string{
	"【总体评分】",
	"【各项评分】",
	"【评价理由】",
	"【改进建议】",
}

// Evaluator 对完成的对话记录发起评判并校验评判结果的形状。
// 持有独立的评判后端客户端，并在客户端内部重试之外
// 维护自己的有界重试循环。
type Evaluator struct {
	enabled bool
	client  *client.BackendClient
	// 渲染完成、仅剩 {dialogue} 占位符的评判提示模板
	promptTemplate string
	retry          config.RetryConfig

	collector *metrics.Collector
	logger    *zap.Logger
	closed    atomic.Bool
}

// New 构造评估器。
// evaluation.enabled 为 false 时返回 no-op 评估器，Evaluate 返回
// ResultSkipped；启用但凭证缺失时返回配置错误。
func New(cfg *config.Config, creds config.Credentials, logger *zap.Logger, collector *metrics.Collector) (*Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "evaluator"))

	if !cfg.Evaluation.Enabled {
		logger.Info("评估未启用，评估器为 no-op")
		return &Evaluator{enabled: false, logger: logger, collector: collector}, nil
	}

	if cfg.Evaluation.Model == "" {
		return nil, &config.MissingFieldError{Field: "evaluation.model"}
	}
	if cfg.Evaluation.Character.Prompt == "" {
		return nil, &config.MissingFieldError{Field: "evaluation.character.prompt"}
	}

	cred, err := creds.For(cfg.Evaluation.Model)
	if err != nil {
		return nil, err
	}

	cli := client.NewWithBackend(
		"evaluator", cfg.Evaluation.Model,
		config.DefaultModelConfig(), cfg.Performance, cred,
		logger, collector,
	)

	return &Evaluator{
		enabled:        true,
		client:         cli,
		promptTemplate: renderTemplate(&cfg.Evaluation),
		retry:          cfg.Performance.Retry,
		collector:      collector,
		logger:         logger,
	}, nil
}

// renderTemplate 把评估维度与输出格式要求渲染进提示模板，
// 只留下 {dialogue} 占位符待每次评估填充。
func renderTemplate(ec *config.EvaluationConfig) string {
	prompt := ec.Character.Prompt

	if strings.Contains(prompt, "{metrics}") {
		var b strings.Builder
		for _, m := range ec.Metrics {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		prompt = strings.ReplaceAll(prompt, "{metrics}", strings.TrimRight(b.String(), "\n"))
	}

	if strings.Contains(prompt, "{score_format}") {
		var b strings.Builder
		fmt.Fprintf(&b, "分数范围：%d-%d", ec.OutputFormat.Scores.Range[0], ec.OutputFormat.Scores.Range[1])
		// map 遍历无序，按维度名排序保证提示词稳定
		names := make([]string, 0, len(ec.OutputFormat.Scores.Weight))
		for name := range ec.OutputFormat.Scores.Weight {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n%s（权重 %g）", name, ec.OutputFormat.Scores.Weight[name])
		}
		prompt = strings.ReplaceAll(prompt, "{score_format}", b.String())
	}

	if strings.Contains(prompt, "{comment_format}") {
		var b strings.Builder
		b.WriteString("必须包含以下方面：")
		for _, aspect := range ec.OutputFormat.Comments.RequiredAspects {
			fmt.Fprintf(&b, "\n- %s", aspect)
		}
		if ec.OutputFormat.Comments.MaxLength > 0 {
			fmt.Fprintf(&b, "\n\n评语长度不超过%d字", ec.OutputFormat.Comments.MaxLength)
		}
		prompt = strings.ReplaceAll(prompt, "{comment_format}", b.String())
	}

	return prompt
}

// Evaluate 评估已持久化的对话记录文件，返回评判文本。
//
// 只有 context 取消会作为 error 返回；其余失败（读取、提取、后端
// 调用、形状校验）在重试耗尽后折叠为带 failurePrefix 的描述性
// 字符串，编排器将其照常写入评估分节。
func (e *Evaluator) Evaluate(ctx context.Context, transcriptPath string) (string, error) {
	if !e.enabled {
		e.collector.RecordEvaluation("skipped")
		return ResultSkipped, nil
	}

	raw, err := os.ReadFile(transcriptPath)
	if err != nil {
		e.collector.RecordEvaluation("failed")
		return failurePrefix + fmt.Sprintf("读取对话记录失败: %v", err), nil
	}

	// 只把对话内容节送给评判后端，记录头与名册不参与评估
	dialogue, err := transcript.ExtractDialogue(string(raw))
	if err != nil {
		e.collector.RecordEvaluation("failed")
		return failurePrefix + err.Error(), nil
	}

	prompt := strings.ReplaceAll(e.promptTemplate, "{dialogue}", dialogue)

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := e.waitFor(attempt - 1)
			e.logger.Info("评估重试",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.retry.MaxAttempts),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("评估被取消: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		critique, err := e.client.Chat(ctx, []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("评估被取消: %w", ctx.Err())
			}
			lastErr = err
			continue
		}
		if critique == "" {
			lastErr = fmt.Errorf("评判后端未返回有效内容")
			continue
		}

		if err := validateCritique(critique); err != nil {
			lastErr = err
			continue
		}

		e.collector.RecordEvaluation("ok")
		e.logger.Info("评估完成", zap.Int("attempt", attempt))
		return critique, nil
	}

	e.collector.RecordEvaluation("failed")
	e.logger.Warn("评估重试耗尽", zap.Error(lastErr))
	return failurePrefix + lastErr.Error(), nil
}

// waitFor 计算第 n 次重试前的等待时间：min(MaxWait, MinWait × Multiplier^(n-1))。
func (e *Evaluator) waitFor(n int) time.Duration {
	wait := float64(e.retry.MinWait) * math.Pow(e.retry.Multiplier, float64(n-1))
	if wait > float64(e.retry.MaxWait) {
		wait = float64(e.retry.MaxWait)
	}
	return time.Duration(wait)
}

// validateCritique 校验评判文本包含全部必需分节标记。
func validateCritique(critique string) error {
	var missing []string
	for _, section := range RequiredSections {
		if !strings.Contains(critique, section) {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("评估结果缺少必需分节: %s", strings.Join(missing, "、"))
	}
	return nil
}

// Close 关闭底层客户端。幂等。
func (e *Evaluator) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
