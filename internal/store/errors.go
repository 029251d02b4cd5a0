package store

import (
	"errors"
	"fmt"

	"github.com/phrazzld/vidgen/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUnavailable marks failures of the backing store itself (connection
	// refused, timeouts). Callers treat it as transient.
	ErrUnavailable = errors.New("store unavailable")

	// ErrRequestNotFound indicates that the generation request does not exist.
	ErrRequestNotFound = fmt.Errorf("%w: generation request", ErrNotFound)

	// ErrCacheEntryNotFound indicates a cache miss.
	ErrCacheEntryNotFound = fmt.Errorf("%w: cache entry", ErrNotFound)

	// ErrDuplicateCorrelationID is returned by Create when the correlation id is taken.
	ErrDuplicateCorrelationID = fmt.Errorf("%w: correlation id", ErrDuplicate)

	// ErrDuplicateRequestID is returned by Create when the request id is taken.
	ErrDuplicateRequestID = fmt.Errorf("%w: request id", ErrDuplicate)

	// ErrLeaseHeld is returned by Claim when another owner holds an unexpired lease.
	ErrLeaseHeld = domain.ErrLeaseHeld
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError is a store-specific error with entity and operation context.
type StoreError struct {
	Entity    string // The entity type (e.g., "generation_request", "cache_entry")
	Operation string // The operation that failed (e.g., "create", "transition")
	Message   string
	Err       error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
