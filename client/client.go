package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/dialogueflow/config"
	"github.com/BaSui01/dialogueflow/internal/metrics"
	"github.com/BaSui01/dialogueflow/internal/tlsutil"
	"github.com/BaSui01/dialogueflow/llm"
	"github.com/BaSui01/dialogueflow/llm/retry"
)

// BackendClient 封装单个聊天补全后端：
// 持有独立连接池、超时策略、退避重试与本地指标。
// 同一客户端同一时刻最多一个在途请求（编排层严格串行）。
type BackendClient struct {
	role     string
	model    string // 完整标识，如 DEEPSEEK/deepseek-chat
	apiModel string // 发往 API 的模型名（最后一个 / 之后）
	cred     config.Credential
	params   config.ModelConfig

	httpClient *http.Client
	retryer    retry.Retryer
	limiter    *rate.Limiter
	thresholds config.AlertThresholds

	metrics   *Metrics
	collector *metrics.Collector
	logger    *zap.Logger
	closed    atomic.Bool
}

// New 按角色 ID 从配置构造后端客户端。
// 角色不存在或凭证未解析时返回配置错误。
func New(cfg *config.Config, role string, creds config.Credentials, logger *zap.Logger, collector *metrics.Collector) (*BackendClient, error) {
	ch, ok := cfg.Character(role)
	if !ok {
		return nil, &config.MissingFieldError{Field: "dialogue.characters.instances." + role}
	}

	cred, err := creds.For(ch.Model)
	if err != nil {
		return nil, err
	}

	return NewWithBackend(role, ch.Model, ch.GenerationParams(), cfg.Performance, cred, logger, collector), nil
}

// NewWithBackend 用显式后端参数构造客户端，供评估器等非参与者角色复用。
func NewWithBackend(role, model string, params config.ModelConfig, perf config.PerformanceConfig, cred config.Credential, logger *zap.Logger, collector *metrics.Collector) *BackendClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("role", role), zap.String("model", model))

	c := &BackendClient{
		role:     role,
		model:    model,
		apiModel: config.ModelName(model),
		cred:     cred,
		params:   params,
		httpClient: tlsutil.SecureHTTPClient(perf.Timeout, tlsutil.PoolLimits{
			MaxIdleConns:    perf.Pool.MaxIdleConns,
			IdleConnTimeout: perf.Pool.IdleConnTimeout,
		}),
		thresholds: perf.Monitoring.AlertThresholds,
		metrics:    NewMetrics(),
		collector:  collector,
		logger:     logger,
	}

	if perf.RateLimit > 0 {
		// rate_limit 以每分钟请求数配置
		c.limiter = rate.NewLimiter(rate.Limit(perf.RateLimit/60.0), 1)
	}

	c.retryer = retry.NewBackoffRetryer(&retry.Policy{
		MaxAttempts: perf.Retry.MaxAttempts,
		MinWait:     perf.Retry.MinWait,
		MaxWait:     perf.Retry.MaxWait,
		Multiplier:  perf.Retry.Multiplier,
		RetryIf:     llm.IsRetryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.metrics.AddRetry()
			c.collector.RecordRetry(c.role, c.apiModel)
		},
	}, logger)

	return c
}

// Role 返回客户端绑定的角色 ID。
func (c *BackendClient) Role() string { return c.role }

// Model 返回完整模型标识。
func (c *BackendClient) Model() string { return c.model }

// Metrics 返回客户端指标（仅由本客户端修改）。
func (c *BackendClient) Metrics() *Metrics { return c.metrics }

// Chat 发送一次聊天补全请求并返回纯文本回复。
//
// 传输层失败（网络、超时、可重试状态码、响应体解析失败）按退避策略
// 重试，重试耗尽后错误向上传播；JSON 合法但缺少有效 choices 的响应
// 记录格式错误并返回空字符串哨兵（err 为 nil），调用方据此跳过该回合
// 而不中断整个对话。
func (c *BackendClient) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if c.closed.Load() {
		return "", fmt.Errorf("客户端 %s 已关闭", c.role)
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("消息列表为空")
	}

	// total_requests 每次逻辑调用只加一，不随重试累加
	c.metrics.BeginRequest()

	req := &llm.ChatRequest{
		Model:            c.apiModel,
		Messages:         messages,
		MaxTokens:        c.params.MaxTokens,
		Temperature:      c.params.Temperature,
		FrequencyPenalty: c.params.FrequencyPenalty,
		PresencePenalty:  c.params.PresencePenalty,
	}

	// 审计日志：出站提示与请求参数
	if messages[0].Role == llm.RoleSystem {
		c.logger.Debug("系统提示", zap.String("content", messages[0].Content))
	}
	c.logger.Debug("请求参数",
		zap.String("model", req.Model),
		zap.Int("messages", len(messages)),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float32("temperature", req.Temperature),
	)

	start := time.Now()
	resp, err := retry.DoWithResultTyped[*llm.ChatResponse](c.retryer, ctx, func() (*llm.ChatResponse, error) {
		return c.doRequest(ctx, req)
	})
	latency := time.Since(start)

	if err != nil {
		c.metrics.FinishFailure(latency)
		c.collector.RecordChatRequest(c.role, c.apiModel, "error", latency, 0)
		c.checkThresholds()
		return "", err
	}

	content, ok := resp.FirstContent()
	if !ok {
		// JSON 合法但形状不符：记录并降级为哨兵，不向上抛错
		c.logger.Error("API 响应格式错误：缺少有效 choices",
			zap.String("response_id", resp.ID))
		c.metrics.FinishFormatError(latency)
		c.collector.RecordChatRequest(c.role, c.apiModel, "format_error", latency, 0)
		c.checkThresholds()
		return "", nil
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	c.metrics.FinishSuccess(latency, tokens)
	c.collector.RecordChatRequest(c.role, c.apiModel, "ok", latency, tokens)
	c.checkThresholds()

	c.logger.Debug("对话完成",
		zap.Duration("latency", latency),
		zap.Int("tokens", tokens),
	)

	return content, nil
}

// doRequest 执行单次 HTTP 往返，错误带可重试标记供退避层过滤。
func (c *BackendClient) doRequest(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("限流等待被取消: %w", err)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cred.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cred.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		code := llm.ErrUpstreamError
		var ne net.Error
		if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			code = llm.ErrUpstreamTimeout
		}
		return nil, &llm.Error{
			Code: code, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Backend: c.role,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := llm.ReadErrorMessage(resp.Body)
		return nil, llm.MapHTTPError(resp.StatusCode, msg, c.role)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Backend: c.role,
		}
	}

	// 审计日志：原始响应
	c.logger.Debug("原始响应", zap.ByteString("body", raw))

	var chatResp llm.ChatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		// 响应体不是合法 JSON：按传输故障重试
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: fmt.Sprintf("解析响应体失败: %v", err),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Backend: c.role,
		}
	}

	return &chatResp, nil
}

// checkThresholds 检查本地指标是否超出告警阈值，超出时记录 warn 日志。
func (c *BackendClient) checkThresholds() {
	snap := c.metrics.Snapshot()
	if snap.TotalRequests == 0 {
		return
	}
	if c.thresholds.ErrorRate > 0 {
		errorRate := float64(snap.FailedRequests) / float64(snap.TotalRequests)
		if errorRate > c.thresholds.ErrorRate {
			c.logger.Warn("后端错误率超过告警阈值",
				zap.Float64("error_rate", errorRate),
				zap.Float64("threshold", c.thresholds.ErrorRate),
			)
		}
	}
	if c.thresholds.AvgLatency > 0 && snap.AvgLatency > c.thresholds.AvgLatency {
		c.logger.Warn("后端平均延迟超过告警阈值",
			zap.Duration("avg_latency", snap.AvgLatency),
			zap.Duration("threshold", c.thresholds.AvgLatency),
		)
	}
}

// Close 释放连接池。幂等，可多次调用。
func (c *BackendClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	c.logger.Debug("客户端已关闭")
	return nil
}
