// Package retry provides a single bounded-retry-with-backoff policy applied
// uniformly to upstream and store calls.
package retry

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt. Subsequent delays
	// grow exponentially: BaseDelay * 2^(attempt-1).
	BaseDelay time.Duration
	// Retryable decides whether a failure is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Do executes fn with exponential backoff retry. The last error is returned
// once the attempt budget is exhausted or a non-retryable error occurs.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if p.Retryable != nil && !p.Retryable(err) {
				return err
			}
			if attempt < maxAttempts-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * p.BaseDelay
				slog.Debug("operation failed, retrying",
					"op", op,
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
