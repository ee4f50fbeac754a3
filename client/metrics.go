package client

import (
	"sync"
	"time"
)

// Metrics 单后端请求指标。
// 只由所属客户端修改，不跨后端共享；客户端关闭后随之丢弃。
// total 在逻辑调用开始时累加；成功/失败/延迟只在最终落定时记录。
type Metrics struct {
	mu sync.Mutex

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	formatErrors       int64
	retryCount         int64
	totalTokens        int64

	resolved     int64 // 已落定的调用数，用于平均延迟
	minLatency   time.Duration
	maxLatency   time.Duration
	totalLatency time.Duration
}

// Snapshot 指标快照。
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	FormatErrors       int64
	RetryCount         int64
	TotalTokens        int64
	MinLatency         time.Duration
	MaxLatency         time.Duration
	AvgLatency         time.Duration
}

// NewMetrics 创建指标。
func NewMetrics() *Metrics {
	return &Metrics{}
}

// BeginRequest 记录一次逻辑调用开始。
func (m *Metrics) BeginRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
}

// AddRetry 记录一次传输层重试。
func (m *Metrics) AddRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
}

// FinishSuccess 记录调用成功落定。
func (m *Metrics) FinishSuccess(latency time.Duration, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successfulRequests++
	m.totalTokens += int64(tokens)
	m.observeLatency(latency)
}

// FinishFailure 记录调用失败落定（重试耗尽或不可重试错误）。
func (m *Metrics) FinishFailure(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedRequests++
	m.observeLatency(latency)
}

// FinishFormatError 记录响应形状错误落定。
// 形状错误计入 failedRequests，同时单独计数便于区分告警来源。
func (m *Metrics) FinishFormatError(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedRequests++
	m.formatErrors++
	m.observeLatency(latency)
}

// observeLatency 调用方必须持有 m.mu。
func (m *Metrics) observeLatency(latency time.Duration) {
	m.resolved++
	m.totalLatency += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
}

// Snapshot 返回当前指标快照。
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		FormatErrors:       m.formatErrors,
		RetryCount:         m.retryCount,
		TotalTokens:        m.totalTokens,
		MinLatency:         m.minLatency,
		MaxLatency:         m.maxLatency,
	}
	if m.resolved > 0 {
		snap.AvgLatency = m.totalLatency / time.Duration(m.resolved)
	}
	return snap
}
