package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when every retry attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn up to maxAttempts times, sleeping per policy between
// failures. It returns the attempt count alongside the result. When attempts
// run out the error wraps both ErrMaxAttemptsExhausted and the last failure.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}
		value, err := fn(ctx, attempt)
		if err == nil {
			return value, attempt, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, attempt, err
			}
		}
	}
	if lastErr == nil {
		return zero, 0, ErrMaxAttemptsExhausted
	}
	return zero, maxAttempts, errors.Join(ErrMaxAttemptsExhausted, lastErr)
}
