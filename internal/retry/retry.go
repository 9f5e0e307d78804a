// Package retry provides a bounded retry helper for operations that may fail transiently.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop. Attempts counts the first call, so Attempts=3 means up to two retries.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	// MaxBackoff caps the exponential wait; zero means uncapped.
	MaxBackoff time.Duration
}

// DefaultPolicy is used by stores when no policy is configured.
var DefaultPolicy = Policy{Attempts: 3, Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient flags err as safe to retry. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked with MarkTransient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts are used up,
// or ctx is done. Waits grow as Backoff * 2^(attempt-1).
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := p.delay(attempt)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func (p Policy) delay(attempt int) time.Duration {
	wait := p.Backoff * time.Duration(1<<uint(attempt-1))
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	return wait
}
