package errors

import (
	"context"
	"fmt"
	"time"

	"podium/internal/logging"
)

// RetryConfig configures retry behavior for backend calls.
//
// MaxAttempts is the total attempt budget, first try included. Backoff is
// linear: the wait before attempt k+1 is k*BaseDelay.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
	}
}

// Backoff returns the delay before the attempt following attempt number
// `attempt` (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * c.BaseDelay
}

// RetryWithResult executes fn until it succeeds, fails permanently, or the
// attempt budget runs out. Only transient errors are retried.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)

	var zero T
	var lastErr error

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded on attempt %d/%d", attempt, attempts)
			}
			return result, nil
		}

		lastErr = err
		logger.Debug("attempt %d/%d failed: %v", attempt, attempts, err)

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == attempts {
			logger.Warn("retries exhausted after %d attempts", attempts)
			break
		}

		delay := config.Backoff(attempt)
		logger.Debug("waiting %v before retry", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, &RetriesExhaustedError{Attempts: attempts, Err: lastErr}
}

// RetriesExhaustedError reports a transient failure that survived the full
// attempt budget.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}
