// Package memory provides in-process implementations of the store ports.
// They back `vidgen serve --dev` and the worker tests; state is lost on exit.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/store"
)

// RequestStore is a mutex-guarded map of generation requests.
// Mutations apply the domain method to a copy and swap it in only on success,
// so readers never observe a partially applied change.
type RequestStore struct {
	mu            sync.RWMutex
	requests      map[uuid.UUID]*domain.GenerationRequest
	byCorrelation map[string]uuid.UUID
	now           func() time.Time
	logger        *slog.Logger
}

var _ store.RequestStore = (*RequestStore)(nil)

// NewRequestStore creates an empty store. A nil logger discards output.
func NewRequestStore(log *slog.Logger) *RequestStore {
	if log == nil {
		log = logger.Discard()
	}
	return &RequestStore{
		requests:      make(map[uuid.UUID]*domain.GenerationRequest),
		byCorrelation: make(map[string]uuid.UUID),
		now:           func() time.Time { return time.Now().UTC() },
		logger:        log.With("component", "memory_request_store"),
	}
}

// SetClock replaces the time source. Tests only.
func (s *RequestStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create implements store.RequestStore.
func (s *RequestStore) Create(
	ctx context.Context,
	params store.CreateRequestParams,
) (*domain.GenerationRequest, error) {
	req, err := domain.NewGenerationRequest(
		params.StudentID,
		params.Query,
		params.GradeLevel,
		params.CorrelationID,
		params.PersonalizationHint,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	if params.ID != uuid.Nil {
		req.ID = params.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCorrelation[req.CorrelationID]; ok {
		return nil, store.ErrDuplicateCorrelationID
	}
	if _, ok := s.requests[req.ID]; ok {
		return nil, store.ErrDuplicateRequestID
	}

	now := s.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	s.requests[req.ID] = req
	s.byCorrelation[req.CorrelationID] = req.ID

	logger.FromContextOrDefault(ctx, s.logger).Debug("generation request created",
		slog.String("request_id", req.ID.String()),
		slog.String("correlation_id", req.CorrelationID))

	return req.Clone(), nil
}

// Transition implements store.RequestStore.
func (s *RequestStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	status domain.RequestStatus,
	progress int,
	stage string,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "transition", func(r *domain.GenerationRequest, now time.Time) error {
		return r.Transition(status, progress, stage, now)
	})
}

// SetResults implements store.RequestStore.
func (s *RequestStore) SetResults(
	ctx context.Context,
	id uuid.UUID,
	results domain.Results,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "set_results", func(r *domain.GenerationRequest, now time.Time) error {
		return r.SetResults(results, now)
	})
}

// CompleteFromCache implements store.RequestStore.
func (s *RequestStore) CompleteFromCache(
	ctx context.Context,
	id uuid.UUID,
	results domain.Results,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "complete_from_cache", func(r *domain.GenerationRequest, now time.Time) error {
		return r.CompleteFromCache(results, now)
	})
}

// SetError implements store.RequestStore.
func (s *RequestStore) SetError(
	ctx context.Context,
	id uuid.UUID,
	info domain.ErrorInfo,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "set_error", func(r *domain.GenerationRequest, now time.Time) error {
		return r.SetError(info, now)
	})
}

// RecordAttemptError implements store.RequestStore.
func (s *RequestStore) RecordAttemptError(
	ctx context.Context,
	id uuid.UUID,
	info domain.ErrorInfo,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "record_attempt_error", func(r *domain.GenerationRequest, now time.Time) error {
		return r.RecordAttemptError(info, now)
	})
}

// Claim implements store.RequestStore.
func (s *RequestStore) Claim(
	ctx context.Context,
	id uuid.UUID,
	owner string,
	ttl time.Duration,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "claim", func(r *domain.GenerationRequest, now time.Time) error {
		return r.Claim(owner, ttl, now)
	})
}

// ReleaseLease implements store.RequestStore.
func (s *RequestStore) ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error {
	_, err := s.mutate(ctx, id, "release_lease", func(r *domain.GenerationRequest, _ time.Time) error {
		r.ReleaseLease(owner)
		return nil
	})
	return err
}

// GetStatus implements store.RequestStore.
func (s *RequestStore) GetStatus(_ context.Context, id uuid.UUID) (*domain.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	return req.Clone(), nil
}

// ListByStatus implements store.RequestStore.
func (s *RequestStore) ListByStatus(
	_ context.Context,
	status domain.RequestStatus,
	limit int,
) ([]*domain.GenerationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.GenerationRequest
	for _, req := range s.requests {
		if req.Status == status {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return strings.Compare(out[i].ID.String(), out[j].ID.String()) < 0
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RequestStore) mutate(
	ctx context.Context,
	id uuid.UUID,
	op string,
	fn func(r *domain.GenerationRequest, now time.Time) error,
) (*domain.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[id]
	if !ok {
		return nil, store.ErrRequestNotFound
	}

	next := current.Clone()
	if err := fn(next, s.now()); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Debug("request mutation rejected",
			slog.String("operation", op),
			slog.String("request_id", id.String()),
			slog.String("status", string(current.Status)),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.requests[id] = next
	return next.Clone(), nil
}
