package qwen

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
)

// RetryConfig controls the generic retry/backoff wrapper around fallible
// network operations.
type RetryConfig struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number before each retry, so
	// successive delays grow linearly: 1x, 2x, 3x...
	BaseDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

// withRetry calls op up to cfg.MaxAttempts times, sleeping
// cfg.BaseDelay*attempt between attempts. A failure carrying a fatal HTTP
// status (400, 401, 403) aborts immediately and is propagated verbatim;
// any other failure is retried until attempts are exhausted, at which
// point the last observed error is propagated.
func withRetry[T any](ctx context.Context, cfg RetryConfig, logger zerolog.Logger, op func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Fatal() {
			return zero, err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.BaseDelay * time.Duration(attempt)
		logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).
			Msg("retrying after failure")
		if err := sleepCtx(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

// sleepCtx sleeps for d or returns early with the context's error when it
// is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
