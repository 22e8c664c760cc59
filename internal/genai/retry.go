package genai

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
)

// RetryOptions tunes the retry policy. Zero values fall back to the
// defaults (3 attempts, 2s base delay).
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      zerolog.Logger
}

// Retry executes op and, when it fails with a transient error, retries with
// exponential backoff: baseDelay * 2^attemptIndex, no jitter. Non-retryable
// errors fail immediately. After the attempt budget the last error is
// returned unchanged so callers can still match on its kind.
//
// This is the one retry policy for every remote call in the system.
func Retry(ctx context.Context, op func(ctx context.Context) error, opts RetryOptions) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			opts.Logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retry: transient failure, backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastErr
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
