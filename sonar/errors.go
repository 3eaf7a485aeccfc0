package sonar

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrServiceProtocol marks a response whose shape the client cannot use.
	// It is not retried.
	ErrServiceProtocol = errors.New("service protocol error")
	// ErrUnexpectedStatus marks a non-retryable, non-success HTTP status.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// TransientError is a failure worth retrying: a network error, a 429 or a 5xx.
type TransientError struct {
	StatusCode int
	// RetryAfter is the delay the service asked for, zero if none.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryAfter returns the service-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
