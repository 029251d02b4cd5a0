// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTransition is returned when a status change would move a request
	// backward, out of a terminal state, or into completed/failed without having
	// passed through generating.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidProgress is returned when a progress value is outside 0..100,
	// decreases, or disagrees with the status (100 is reserved for completed).
	ErrInvalidProgress = errors.New("invalid progress")

	// ErrInvalidStatus is returned when a status value is not recognized.
	ErrInvalidStatus = errors.New("invalid request status")

	// ErrMissingResults is returned when a completion is attempted without an artifact reference.
	ErrMissingResults = errors.New("results must include an artifact reference")

	// ErrLeaseHeld is returned when another worker holds an unexpired lease on a request.
	ErrLeaseHeld = errors.New("request lease held by another worker")
)
