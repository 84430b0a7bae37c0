package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff returns the delay to wait after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// LinearBackoff waits step, 2*step, 3*step, ... between attempts.
func LinearBackoff(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// ConstantBackoff waits the same delay between every attempt.
func ConstantBackoff(delay time.Duration) Backoff {
	return func(int) time.Duration { return delay }
}

// Retry calls fn up to attempts times, sleeping backoff(i) after the i-th failure.
// It returns nil on the first success, ctx.Err() if the context ends while waiting,
// or the last error from fn. The attempt number passed to fn is 1-based.
func Retry(ctx context.Context, attempts int, backoff Backoff, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	var lastErr error
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		if attempt >= attempts {
			return 0, true
		}
		if backoff == nil {
			return 0, false
		}
		return max(backoff(attempt), 0), false
	})

	err := retry.Do(ctx, b, func(context.Context) error {
		attempt++
		lastErr = fn(attempt)
		return retry.RetryableError(lastErr)
	})
	if err != nil && lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) && !errors.Is(lastErr, ctx.Err()) {
		return fmt.Errorf("%w (last error: %v)", err, lastErr)
	}
	return err
}
