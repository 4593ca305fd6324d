// Package httpretry runs remote calls with exponential backoff. Callers mark
// transient failures with Retryable; anything else ends the loop at once.
package httpretry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds how often and how patiently a call is retried.
type Policy struct {
	// Name prefixes the errors returned by Do, e.g. "transcribe".
	Name string
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseBackoff is the wait before the first retry. It doubles every retry.
	BaseBackoff time.Duration
}

// Do calls fn until it succeeds, returns an error not marked Retryable, or
// the policy runs out of retries. A context cancelled during a backoff wait
// stops the loop with the context's error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	backoff := p.BaseBackoff

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context cancelled: %w", p.Name, ctx.Err())
			case <-timer.C:
				backoff *= 2
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%s: max retries exceeded: %w", p.Name, lastErr)
}

// Retryable marks err as transient so Do tries again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}
