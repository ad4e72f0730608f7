package configclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/config-service/interfaces"
)

// newBackOff builds an exponential backoff without jitter, capped at
// MaxAttempts tries in total.
func newBackOff(ctx context.Context, policy interfaces.RetryPolicy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = policy.Multiplier
	b.MaxInterval = policy.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := policy.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// WithRetry runs op until it succeeds or the policy is exhausted, and returns
// the last error. Each attempt runs op in full.
func WithRetry[T any](ctx context.Context, policy interfaces.RetryPolicy, log *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	if log == nil {
		log = slog.Default()
	}
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return op(ctx)
	}, newBackOff(ctx, policy), func(err error, wait time.Duration) {
		log.Warn("Attempt failed, retrying", "attempt", attempt, "maxAttempts", policy.MaxAttempts, "wait", wait, "err", err)
	})
}
