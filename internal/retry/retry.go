// Package retry provides the bounded exponential-backoff helper consumed
// by the REST-style delivery backends. The SMTP engine never retries:
// most SMTP failures are not idempotently retryable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it immediately instead of retrying.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Do invokes fn up to maxRetries+1 times, doubling the delay between
// attempts starting from initialDelay. The first success wins; once the
// attempts are exhausted the last error is returned. The wait between
// attempts is cut short when ctx is cancelled.
func Do(ctx context.Context, fn func() error, maxRetries int, initialDelay time.Duration) error {
	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			log.Debug().
				Int("attempt", attempt).
				Int("maxRetries", maxRetries).
				Dur("delay", delay).
				Msg("retrying operation")
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry wait cancelled: %w", err)
			}
			delay *= 2
		}

		if err := fn(); err != nil {
			var pe *permanentError
			if errors.As(err, &pe) {
				return pe.err
			}
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("operation failed after %d attempts: %w", maxRetries+1, lastErr)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
