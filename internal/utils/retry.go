package utils

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 5 * time.Second
)

type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration

	// Retryable reports whether an error is worth another attempt. A nil
	// Retryable retries everything except context cancellation.
	Retryable func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetryAttempts, Delay: DefaultRetryDelay}
}

func (p RetryPolicy) WithRetryable(retryable func(error) bool) RetryPolicy {
	p.Retryable = retryable
	return p
}

// Retry calls fn until it succeeds, the policy's attempts are exhausted, or fn
// returns an error the policy does not retry. Each attempt calls fn exactly
// once and attempts are separated by a fixed delay. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts == 0 {
		attempts = 1
	}

	attempt := uint(0)
	return retry.Do(
		func() error {
			attempt++
			err := fn(ctx)
			if err != nil {
				slog.Warn("attempt failed", "op", op, "attempt", attempt, "max_attempts", attempts, "error", err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			if policy.Retryable != nil {
				return policy.Retryable(err)
			}
			return true
		}),
		retry.OnRetry(func(n uint, err error) {
			if n+1 < attempts {
				slog.Info("retrying", "op", op, "next_attempt", n+2, "delay", policy.Delay)
			}
		}),
	)
}
