// Package retry wraps fallible calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls how often and how patiently an operation is retried
type Policy struct {
	Attempts  int           // Total number of calls, including the first
	BaseDelay time.Duration // Delay before the second attempt; doubles for each one after
	// Notify is called before every retry with the upcoming attempt number, the delay and
	// the error that caused it. It is purely observational.
	Notify func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy is three attempts spaced 1s and 2s apart
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second}
}

// Delay returns the wait before the given attempt (attempt >= 2): base * 2^(attempt-2).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt-2))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying (bad request, missing credentials)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls op until it succeeds, returns a permanent error, the context ends, or the
// attempts are used up. A successful call is any call returning a nil error, whatever
// the value: an empty result is a valid answer, not a reason to retry.
// On exhaustion the last error is returned.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt)
			if p.Notify != nil {
				p.Notify(attempt, delay, lastErr)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled after %d attempts: %w: %w", attempt-1, ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return zero, err
			}
			return zero, fmt.Errorf("retry cancelled after %d attempts: %w: %w", attempt-1, err, lastErr)
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if IsPermanent(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
