// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 后端调用指标
	chatRequestsTotal   *prometheus.CounterVec
	chatRequestDuration *prometheus.HistogramVec
	chatTokensUsed      *prometheus.CounterVec
	chatRetriesTotal    *prometheus.CounterVec

	// 对话编排指标
	dialogueRoundsTotal  prometheus.Counter
	dialogueTurnsTotal   *prometheus.CounterVec
	stateTransitions     *prometheus.CounterVec
	evaluationsTotal     *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// 注册到传入的 registerer；测试可传入私有 registry 避免重复注册冲突。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 后端调用指标
	c.chatRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Total number of chat completion requests",
		},
		[]string{"role", "model", "status"},
	)

	c.chatRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_request_duration_seconds",
			Help:      "Chat completion request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role", "model"},
	)

	c.chatTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_tokens_used_total",
			Help:      "Total number of tokens consumed",
		},
		[]string{"role", "model"},
	)

	c.chatRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_retries_total",
			Help:      "Total number of transport-level retries",
		},
		[]string{"role", "model"},
	)

	// 对话编排指标
	c.dialogueRoundsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogue_rounds_total",
			Help:      "Total number of completed dialogue rounds",
		},
	)

	c.dialogueTurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogue_turns_total",
			Help:      "Total number of dialogue turns",
		},
		[]string{"role", "status"}, // status: ok, skipped, failed
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_state_transitions_total",
			Help:      "Total number of orchestrator state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.evaluationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of transcript evaluations",
		},
		[]string{"status"}, // status: ok, failed, skipped
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordChatRequest 记录一次后端调用的最终结果。
func (c *Collector) RecordChatRequest(role, model, status string, duration time.Duration, tokens int) {
	if c == nil {
		return
	}
	c.chatRequestsTotal.WithLabelValues(role, model, status).Inc()
	c.chatRequestDuration.WithLabelValues(role, model).Observe(duration.Seconds())
	if tokens > 0 {
		c.chatTokensUsed.WithLabelValues(role, model).Add(float64(tokens))
	}
}

// RecordRetry 记录一次传输层重试。
func (c *Collector) RecordRetry(role, model string) {
	if c == nil {
		return
	}
	c.chatRetriesTotal.WithLabelValues(role, model).Inc()
}

// RecordRound 记录一轮对话完成。
func (c *Collector) RecordRound() {
	if c == nil {
		return
	}
	c.dialogueRoundsTotal.Inc()
}

// RecordTurn 记录一个发言回合的结果。
func (c *Collector) RecordTurn(role, status string) {
	if c == nil {
		return
	}
	c.dialogueTurnsTotal.WithLabelValues(role, status).Inc()
}

// RecordStateTransition 记录编排器状态转换。
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordEvaluation 记录一次评估结果。
func (c *Collector) RecordEvaluation(status string) {
	if c == nil {
		return
	}
	c.evaluationsTotal.WithLabelValues(status).Inc()
}
