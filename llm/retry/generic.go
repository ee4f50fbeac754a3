package retry

import "context"

// DoWithResultTyped 是 DoWithResult 的泛型包装，免去调用方的类型断言。
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	v, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
