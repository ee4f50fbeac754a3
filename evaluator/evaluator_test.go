package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/dialogueflow/config"
	"github.com/BaSui01/dialogueflow/internal/metrics"
	"github.com/BaSui01/dialogueflow/llm"
	"github.com/BaSui01/dialogueflow/transcript"
)

const validCritique = "【总体评分】85\n【各项评分】连贯性 90\n【评价理由】对话自然\n【改进建议】可以更深入"

func evalConfig(url string) (*config.Config, config.Credentials) {
	cfg := config.DefaultConfig()
	cfg.Performance.Retry = config.RetryConfig{
		MaxAttempts: 3,
		MinWait:     time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  1.5,
	}
	cfg.Evaluation = config.EvaluationConfig{
		Enabled: true,
		Model:   "JUDGE/judge-model",
		Character: config.EvalCharacter{
			Name:   "评委",
			Prompt: "请评估以下对话：\n{dialogue}\n\n维度：\n{metrics}\n\n{score_format}\n\n{comment_format}",
		},
		Metrics: []string{"连贯性", "角色一致性"},
		OutputFormat: config.OutputFormat{
			Scores: config.ScoreFormat{
				Range:  [2]int{0, 100},
				Weight: map[string]float64{"连贯性": 0.6, "角色一致性": 0.4},
			},
			Comments: config.CommentFormat{
				RequiredAspects: []string{"亮点", "不足"},
				MaxLength:       200,
			},
		},
	}
	creds := config.Credentials{"JUDGE": {APIURL: url, APIKey: "sk-judge"}}
	return cfg, creds
}

func writeTranscript(t *testing.T) string {
	t.Helper()
	doc := &transcript.Document{
		CreatedAt: time.Now(),
		Topic:     "测试主题",
		Entries: []transcript.Entry{
			{SpeakerName: "爱丽丝", Content: "大家好。"},
			{SpeakerName: "鲍勃", Content: "你好。"},
		},
	}
	path := filepath.Join(t.TempDir(), "dialogue.md")
	require.NoError(t, os.WriteFile(path, []byte(doc.Render()), 0o644))
	return path
}

func critiqueServer(t *testing.T, calls *atomic.Int64, respond func(n int64) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": respond(n)}},
			},
		})
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEvaluator(t *testing.T, cfg *config.Config, creds config.Credentials) *Evaluator {
	t.Helper()
	collector := metrics.NewCollector("test", prometheus.NewRegistry(), zap.NewNop())
	e, err := New(cfg, creds, zap.NewNop(), collector)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEvaluate_Disabled(t *testing.T) {
	cfg, creds := evalConfig("http://unused.test")
	cfg.Evaluation.Enabled = false

	e := newEvaluator(t, cfg, creds)

	result, err := e.Evaluate(context.Background(), "/nonexistent/path.md")
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result, "关闭评估时返回固定跳过文案，不读文件")
}

func TestEvaluate_Success(t *testing.T) {
	var calls atomic.Int64
	var gotPrompt string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req llm.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Messages[0].Content

		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": validCritique}},
			},
		})
		w.Write(body)
	}))
	defer srv.Close()

	cfg, creds := evalConfig(srv.URL)
	e := newEvaluator(t, cfg, creds)

	result, err := e.Evaluate(context.Background(), writeTranscript(t))
	require.NoError(t, err)
	assert.Equal(t, validCritique, result)
	assert.Equal(t, int64(1), calls.Load())

	// 提示词应渲染全部占位符
	assert.Contains(t, gotPrompt, "[爱丽丝] 大家好。", "对话内容应填入 {dialogue}")
	assert.NotContains(t, gotPrompt, "{dialogue}")
	assert.Contains(t, gotPrompt, "- 连贯性")
	assert.Contains(t, gotPrompt, "分数范围：0-100")
	assert.Contains(t, gotPrompt, "连贯性（权重 0.6）")
	assert.Contains(t, gotPrompt, "- 亮点")
	assert.Contains(t, gotPrompt, "评语长度不超过200字")
	assert.NotContains(t, gotPrompt, "主题：", "记录头不应送入评判后端")
}

func TestEvaluate_InvalidCritiqueRetriedThenSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := critiqueServer(t, &calls, func(n int64) string {
		if n < 3 {
			return "这不是合格的评估结果"
		}
		return validCritique
	})

	cfg, creds := evalConfig(srv.URL)
	e := newEvaluator(t, cfg, creds)

	result, err := e.Evaluate(context.Background(), writeTranscript(t))
	require.NoError(t, err)
	assert.Equal(t, validCritique, result)
	assert.Equal(t, int64(3), calls.Load(), "形状不合格应触发评估层重试")
}

func TestEvaluate_ExhaustionReturnsFailureString(t *testing.T) {
	var calls atomic.Int64
	srv := critiqueServer(t, &calls, func(n int64) string {
		return "【总体评分】85 但缺少其余分节"
	})

	cfg, creds := evalConfig(srv.URL)
	e := newEvaluator(t, cfg, creds)

	result, err := e.Evaluate(context.Background(), writeTranscript(t))
	require.NoError(t, err, "重试耗尽不向上抛错")
	assert.True(t, strings.HasPrefix(result, "评估失败："), "应返回失败文案供落盘")
	assert.Contains(t, result, "【各项评分】", "失败文案应点名缺失的分节")
	assert.Equal(t, int64(3), calls.Load(), "应尝试到 max_attempts 为止")
}

func TestEvaluate_MissingTranscript(t *testing.T) {
	cfg, creds := evalConfig("http://unused.test")
	e := newEvaluator(t, cfg, creds)

	result, err := e.Evaluate(context.Background(), "/nonexistent/dialogue.md")
	require.NoError(t, err)
	assert.Contains(t, result, "评估失败：")
}

func TestNew_MissingFields(t *testing.T) {
	cfg, creds := evalConfig("http://unused.test")
	cfg.Evaluation.Model = ""
	_, err := New(cfg, creds, zap.NewNop(), nil)
	require.Error(t, err)
	assert.True(t, config.IsMissingField(err))

	cfg, creds = evalConfig("http://unused.test")
	cfg.Evaluation.Character.Prompt = ""
	_, err = New(cfg, creds, zap.NewNop(), nil)
	require.Error(t, err)
	assert.True(t, config.IsMissingField(err))

	cfg, _ = evalConfig("http://unused.test")
	_, err = New(cfg, config.Credentials{}, zap.NewNop(), nil)
	assert.Error(t, err, "凭证未解析应在构造时失败")
}

func TestValidateCritique(t *testing.T) {
	assert.NoError(t, validateCritique(validCritique))

	err := validateCritique("【总体评分】85\n【评价理由】不错")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "【各项评分】")
	assert.Contains(t, err.Error(), "【改进建议】")
}
