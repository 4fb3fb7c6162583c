package domain

import "errors"

var (
	// ErrAlreadySent is returned when the gallery email for a record was already delivered
	ErrAlreadySent = errors.New("notification already sent")

	// ErrInvalidPayload is returned when an event body is malformed or incomplete
	ErrInvalidPayload = errors.New("invalid event payload")

	// ErrMaxRetriesExceeded is returned when a redelivered event fails again
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
