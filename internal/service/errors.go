package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/phrazzld/vidgen/internal/store"
)

// Service errors. The API layer maps these to HTTP status codes.
var (
	// ErrInvalidSubmission indicates the submitted request failed validation.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidSubmission = errors.New("invalid generation request")

	// ErrRequestNotFound indicates the generation request does not exist.
	ErrRequestNotFound = errors.New("generation request not found")

	// ErrDuplicateSubmission indicates the correlation id was already used.
	// API layer should map this to HTTP 409 Conflict.
	ErrDuplicateSubmission = errors.New("generation request already submitted")

	// ErrEnqueueFailed indicates the request was recorded but its job message
	// could not be published. The record is marked failed.
	ErrEnqueueFailed = errors.New("failed to enqueue generation request")

	// ErrDeadLetterNotFound indicates the dead letter does not exist or was
	// already replayed.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// ServiceError wraps an unexpected failure with the operation that caused it.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit", "replay")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError maps store and queue sentinels to service sentinels and
// wraps everything else in a ServiceError.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, store.ErrRequestNotFound):
		return ErrRequestNotFound
	case errors.Is(err, ErrDuplicateSubmission), errors.Is(err, store.ErrDuplicateCorrelationID):
		return ErrDuplicateSubmission
	case errors.Is(err, ErrDeadLetterNotFound), errors.Is(err, queue.ErrMessageNotFound):
		return ErrDeadLetterNotFound
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
