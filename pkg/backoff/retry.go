package backoff

import (
	"context"
	"errors"
)

// ErrMaxAttemptsExhausted is returned when every attempt failed with a
// retryable error.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry stops at once and
// returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Result reports how a Retry run went.
type Result struct {
	Attempts  int
	LastError error
}

// Retry calls fn up to maxAttempts times, waiting p.Delay(attempt) between
// retryable failures. A nil sleep uses SleepWithContext.
func Retry(ctx context.Context, p Policy, maxAttempts int, sleep Sleeper, fn func(attempt int) error) (Result, error) {
	if sleep == nil {
		sleep = SleepWithContext
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var res Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt

		err := fn(attempt)
		if err == nil {
			res.LastError = nil
			return res, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			res.LastError = perm.err
			return res, perm.err
		}
		res.LastError = err

		if attempt < maxAttempts {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return res, err
			}
		}
	}
	return res, ErrMaxAttemptsExhausted
}
