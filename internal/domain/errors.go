package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoImagesGenerated is returned when every source image of a record failed
	ErrNoImagesGenerated = errors.New("no images generated")

	// ErrRecordAlreadyClaimed is returned when another run holds the record
	ErrRecordAlreadyClaimed = errors.New("record already claimed by another run")

	// ErrRecordNotFound is returned when the backend has no record with the given id
	ErrRecordNotFound = errors.New("record not found")
)

// ValidationError reports missing or malformed input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamError reports a non-2xx or malformed response from an external service
type UpstreamError struct {
	Service      string // gemini, airtable, source, storage
	StatusCode   int
	Status       string
	Message      string
	FinishReason string
	Err          error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s upstream error", e.Service)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": %d", e.StatusCode)
	}
	if e.Status != "" {
		msg += " " + e.Status
	}
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.FinishReason != "" {
		msg += fmt.Sprintf(" (finish reason: %s)", e.FinishReason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is throttling, a server error, or a transport failure
func (e *UpstreamError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// TransformError reports a local image transformation failure
type TransformError struct {
	Op  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// FatalError aborts a whole pipeline run
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err wraps a retryable UpstreamError
func IsRetryable(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retryable()
	}
	return false
}
