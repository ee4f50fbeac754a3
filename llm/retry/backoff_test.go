package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxAttempts int) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		MinWait:     time.Millisecond,
		MaxWait:     10 * time.Millisecond,
		Multiplier:  1.5,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())

	callCount := 0
	testErr := errors.New("temporary error")

	result, err := retryer.DoWithResult(context.Background(), func() (any, error) {
		callCount++
		if callCount < 3 {
			return nil, testErr // 前两次失败
		}
		return "ok", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(context.Background(), func() error {
		callCount++
		return testErr
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, testErr, "耗尽后应包裹最后一个错误")
	assert.Equal(t, 3, callCount, "应该尝试到上限为止")
}

func TestBackoffRetryer_RetryIfFilter(t *testing.T) {
	policy := fastPolicy(5)
	fatal := errors.New("fatal")
	policy.RetryIf = func(err error) bool { return !errors.Is(err, fatal) }

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, callCount, "不可重试错误应立即失败")
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	policy := fastPolicy(4)
	var retries int
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		retries++
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	err := retryer.Do(context.Background(), func() error {
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, retries, "4 次尝试应触发 3 次重试回调")
}

func TestBackoffRetryer_ContextCancellation(t *testing.T) {
	policy := fastPolicy(5)
	policy.MinWait = 200 * time.Millisecond
	policy.MaxWait = 200 * time.Millisecond
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := retryer.Do(ctx, func() error {
		callCount++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "退避等待中取消应返回 context 错误")
	assert.Equal(t, 1, callCount, "取消后不应再发起尝试")
}

func TestBackoffRetryer_WaitSchedule(t *testing.T) {
	policy := &Policy{
		MaxAttempts: 5,
		MinWait:     2 * time.Second,
		MaxWait:     8 * time.Second,
		Multiplier:  1.5,
	}
	r := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

	// 2s, 3s, 4.5s, 6.75s，未触及 8s 上限
	assert.Equal(t, 2*time.Second, r.waitFor(1))
	assert.Equal(t, 3*time.Second, r.waitFor(2))
	assert.Equal(t, 4500*time.Millisecond, r.waitFor(3))
	assert.Equal(t, 6750*time.Millisecond, r.waitFor(4))
	assert.Equal(t, 8*time.Second, r.waitFor(10), "超出部分应截断到上限")
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	n, err := DoWithResultTyped[int](retryer, context.Background(), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = DoWithResultTyped[int](retryer, context.Background(), func() (int, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
}
