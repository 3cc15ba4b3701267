// Package retry provides bounded retries with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy is an explicit retry policy applied at the call site. The zero
// value retries nothing; use DefaultPolicy for the standard provider/store
// policy.
type Policy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultPolicy returns the bounded-retry policy used for provider and
// store calls: up to 3 attempts, 4s initial backoff doubling up to a 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitialWait: 4 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
	}
}

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient wraps err to mark it as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

func (p Policy) wait(attempt int) time.Duration {
	w := float64(p.InitialWait) * math.Pow(p.Multiplier, float64(attempt-1))
	if w > float64(p.MaxWait) {
		w = float64(p.MaxWait)
	}
	return time.Duration(w)
}

// Do executes fn, retrying transient errors per the policy. Non-transient
// errors and context cancellation return immediately. After the final
// attempt the last error is returned unwrapped of its transient marker, so
// callers see exhaustion as a plain failure.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.wait(attempt)):
		}
	}
	var te transientError
	if errors.As(lastErr, &te) {
		return te.err
	}
	return lastErr
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	var result T
	err := Do(ctx, p, func() error {
		var ferr error
		result, ferr = fn()
		return ferr
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}
