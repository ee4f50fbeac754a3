package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
)

func testPerf() config.PerformanceConfig {
	return config.PerformanceConfig{
		Timeout: 5 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts: 5,
			MinWait:     time.Millisecond,
			MaxWait:     10 * time.Millisecond,
			Multiplier:  1.5,
		},
		Pool: config.PoolConfig{MaxIdleConns: 10, IdleConnTimeout: time.Minute},
	}
}

func testCollector() *metrics.Collector {
	return metrics.NewCollector("test", prometheus.NewRegistry(), zap.NewNop())
}

func newTestClient(t *testing.T, url string) *BackendClient {
	t.Helper()
	cli := NewWithBackend(
		"alice", "DEEPSEEK/deepseek-chat",
		config.DefaultModelConfig(), testPerf(),
		config.Credential{APIURL: url, APIKey: "sk-test"},
		zap.NewNop(), testCollector(),
	)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func chatBody(content string) string {
	return `{"id":"r1","choices":[{"index":0,"message":{"role":"assistant","content":"` + content + `"}}],"usage":{"total_tokens":42}}`
}

func TestChat_Success(t *testing.T) {
	var gotReq llm.ChatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(chatBody("你好")))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)

	content, err := cli.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "你是爱丽丝"},
		{Role: llm.RoleUser, Content: "请发言"},
	})
	require.NoError(t, err)
	assert.Equal(t, "你好", content)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "deepseek-chat", gotReq.Model, "发往 API 的模型名应取最后一个斜杠之后的部分")
	assert.Equal(t, 500, gotReq.MaxTokens)
	assert.Equal(t, float32(0.7), gotReq.Temperature)
	assert.Equal(t, float32(0.5), gotReq.FrequencyPenalty)
	assert.Equal(t, float32(0.5), gotReq.PresencePenalty)
	assert.Len(t, gotReq.Messages, 2)

	snap := cli.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
	assert.Equal(t, int64(42), snap.TotalTokens)
}

func TestChat_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatBody("终于成功")))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)

	content, err := cli.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "终于成功", content)

	snap := cli.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests, "逻辑调用只计一次")
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests, "最终成功不计失败")
	assert.Equal(t, int64(2), snap.RetryCount, "前两次失败各计一次重试")
}

func TestChat_RetriesExhausted(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)

	_, err := cli.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, int64(5), calls.Load(), "应尝试到次数上限")

	snap := cli.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(4), snap.RetryCount)
}

func TestChat_NonRetryableFailsFast(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)

	_, err := cli.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.Error(t, err)

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
	assert.Equal(t, int64(1), calls.Load(), "401 不应触发重试")
}

func TestChat_MissingChoicesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"r1","choices":[]}`))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)

	content, err := cli.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	assert.NoError(t, err, "形状错误不向上抛错")
	assert.Equal(t, "", content, "应返回空字符串哨兵")

	snap := cli.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.FailedRequests, "形状错误计入失败")
	assert.Equal(t, int64(1), snap.FormatErrors)
}

func TestChat_MalformedJSONRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte("not json at all"))
			return
		}
		w.Write([]byte(chatBody("恢复了")))
	}))
	defer srv.Close()

	cli := newTestClient(t, srv.URL)

	content, err := cli.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "恢复了", content, "响应体解析失败应按传输故障重试")
	assert.Equal(t, int64(2), calls.Load())
}

func TestChat_EmptyMessages(t *testing.T) {
	cli := newTestClient(t, "http://localhost:0")
	_, err := cli.Chat(context.Background(), nil)
	assert.Error(t, err)
}

func TestClient_CloseIdempotent(t *testing.T) {
	cli := newTestClient(t, "http://localhost:0")
	assert.NoError(t, cli.Close())
	assert.NoError(t, cli.Close(), "重复关闭应无副作用")

	_, err := cli.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	assert.Error(t, err, "关闭后的调用应报错")
}

func TestClient_NewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dialogue.Characters = config.CharacterSet{
		Instances: map[string]*config.Character{
			"alice": {
				Name: "爱丽丝", Role: "提问者",
				Personality: config.StringList{"好奇"},
				Interests:   config.StringList{"哲学"},
				Background:  "大学生",
				Model:       "DEEPSEEK/deepseek-chat",
				Prompt:      "你是爱丽丝",
			},
		},
		Order: []string{"alice"},
	}
	creds := config.Credentials{"DEEPSEEK": {APIURL: "https://x.test", APIKey: "sk"}}

	cli, err := New(cfg, "alice", creds, zap.NewNop(), testCollector())
	require.NoError(t, err)
	defer cli.Close()
	assert.Equal(t, "alice", cli.Role())
	assert.Equal(t, "DEEPSEEK/deepseek-chat", cli.Model())

	_, err = New(cfg, "ghost", creds, zap.NewNop(), testCollector())
	require.Error(t, err)
	assert.True(t, config.IsMissingField(err), "未知角色应报配置错误")

	_, err = New(cfg, "alice", config.Credentials{}, zap.NewNop(), testCollector())
	assert.Error(t, err, "凭证未解析应报错")
}
