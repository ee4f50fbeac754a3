package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置。
// 等待时间 = min(MaxWait, MinWait × Multiplier^(attempt-1))。
type Policy struct {
	MaxAttempts int                                               // 总尝试次数（含首次，最小为 1）
	MinWait     time.Duration                                     // 初始等待时间
	MaxWait     time.Duration                                     // 等待时间上限
	Multiplier  float64                                           // 等待时间倍增因子（指数退避）
	RetryIf     func(err error) bool                              // 判断错误是否可重试（nil 则全部重试）
	OnRetry     func(attempt int, err error, wait time.Duration) // 每次重试前回调
}

// DefaultPolicy 返回传输层默认重试策略：
// 最多 5 次尝试，2s 起步，1.5 倍增长，上限 8s。
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 5,
		MinWait:     2 * time.Second,
		MaxWait:     8 * time.Second,
		Multiplier:  1.5,
	}
}

// Retryer 重试器接口。
type Retryer interface {
	// Do 执行函数，失败时根据策略重试。
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试。
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器。
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MinWait <= 0 {
		policy.MinWait = 2 * time.Second
	}
	if policy.MaxWait < policy.MinWait {
		policy.MaxWait = policy.MinWait
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 1.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &backoffRetryer{policy: policy, logger: logger}
}

// Do 实现 Retryer.Do。
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult。
// 核心重试逻辑：指数退避 + 错误过滤 + context 取消。
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := r.waitFor(attempt - 1)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, wait)
			}

			// 等待退避时间，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if r.policy.RetryIf != nil && !r.policy.RetryIf(err) {
			r.logger.Debug("错误不可重试", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("尝试 %d 次后仍失败: %w", r.policy.MaxAttempts, lastErr)
}

// waitFor 计算第 n 次重试前的等待时间：min(MaxWait, MinWait × Multiplier^(n-1))。
func (r *backoffRetryer) waitFor(n int) time.Duration {
	wait := float64(r.policy.MinWait) * math.Pow(r.policy.Multiplier, float64(n-1))
	if wait > float64(r.policy.MaxWait) {
		wait = float64(r.policy.MaxWait)
	}
	return time.Duration(wait)
}
