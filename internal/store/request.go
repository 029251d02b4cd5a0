package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
)

// CreateRequestParams carries the producer-supplied inputs of a new request.
type CreateRequestParams struct {
	// ID is optional; a fresh UUID is generated when it is uuid.Nil.
	ID                  uuid.UUID
	CorrelationID       string
	StudentID           string
	Query               string
	GradeLevel          int
	PersonalizationHint string
}

// RequestStore is the durable record of each generation request's lifecycle.
//
// Every mutation is applied atomically to a single record: a concurrent
// GetStatus observes either the state before the call or the state after it.
// Mutations return the committed snapshot.
type RequestStore interface {
	// Create stores a new request in pending status with progress 0.
	// Returns ErrDuplicateCorrelationID if the correlation id already exists.
	Create(ctx context.Context, params CreateRequestParams) (*domain.GenerationRequest, error)

	// Transition moves the request forward. Returns domain.ErrInvalidTransition on
	// a backward move or a jump into completed/failed without prior generating.
	Transition(ctx context.Context, id uuid.UUID, status domain.RequestStatus, progress int, stage string) (*domain.GenerationRequest, error)

	// SetResults stores results and completes the request. Only valid while
	// generating or uploading.
	SetResults(ctx context.Context, id uuid.UUID, results domain.Results) (*domain.GenerationRequest, error)

	// CompleteFromCache completes a non-terminal request with cached results.
	CompleteFromCache(ctx context.Context, id uuid.UUID, results domain.Results) (*domain.GenerationRequest, error)

	// SetError records a permanent failure and moves the request to failed.
	SetError(ctx context.Context, id uuid.UUID, info domain.ErrorInfo) (*domain.GenerationRequest, error)

	// RecordAttemptError records a retryable failure, leaving the status unchanged.
	RecordAttemptError(ctx context.Context, id uuid.UUID, info domain.ErrorInfo) (*domain.GenerationRequest, error)

	// Claim takes the processing lease for owner. Returns ErrLeaseHeld if
	// another owner holds an unexpired lease.
	Claim(ctx context.Context, id uuid.UUID, owner string, ttl time.Duration) (*domain.GenerationRequest, error)

	// ReleaseLease drops the lease if owner holds it.
	ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error

	// GetStatus returns a consistent snapshot, or ErrRequestNotFound.
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.GenerationRequest, error)

	// ListByStatus returns up to limit requests in status, most recently updated first.
	ListByStatus(ctx context.Context, status domain.RequestStatus, limit int) ([]*domain.GenerationRequest, error)
}
