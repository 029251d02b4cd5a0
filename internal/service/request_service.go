package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/phrazzld/vidgen/internal/redact"
	"github.com/phrazzld/vidgen/internal/store"
)

// SubmitParams are the producer inputs of a generation request.
type SubmitParams struct {
	// CorrelationID is optional; a fresh one is generated when empty. Reusing
	// an id returns ErrDuplicateSubmission.
	CorrelationID       string `validate:"omitempty,max=128"`
	StudentID           string `validate:"required,max=128"`
	Query               string `validate:"required,max=2000"`
	GradeLevel          *int   `validate:"required,gte=0,lte=12"`
	PersonalizationHint string `validate:"max=500"`
	// TopicID overrides the topic derived from Query for cache lookups.
	TopicID string `validate:"omitempty,max=200"`
}

// RequestService is the producer side of the job flow.
type RequestService interface {
	// Submit records a pending request and publishes its job message.
	Submit(ctx context.Context, params SubmitParams) (*domain.GenerationRequest, error)

	// GetStatus returns the current state of a request.
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.GenerationRequest, error)
}

type requestServiceImpl struct {
	requests  store.RequestStore
	publisher queue.Publisher
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewRequestService creates a RequestService. If logger is nil, the default
// logger is used.
func NewRequestService(
	requests store.RequestStore,
	publisher queue.Publisher,
	logger *slog.Logger,
) (RequestService, error) {
	if requests == nil {
		return nil, errors.New("request store cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("queue publisher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &requestServiceImpl{
		requests:  requests,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger.With(slog.String("component", "request_service")),
	}, nil
}

// Submit implements RequestService.
func (s *requestServiceImpl) Submit(ctx context.Context, params SubmitParams) (*domain.GenerationRequest, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	if strings.TrimSpace(params.StudentID) == "" || strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("%w: student id and query cannot be blank", ErrInvalidSubmission)
	}
	if params.CorrelationID == "" {
		params.CorrelationID = uuid.NewString()
	}

	ctx = logger.WithLogger(ctx, logger.FromContextOrDefault(ctx, s.logger))
	ctx = logger.WithCorrelationID(ctx, params.CorrelationID)
	log := logger.FromContext(ctx)

	req, err := s.requests.Create(ctx, store.CreateRequestParams{
		CorrelationID:       params.CorrelationID,
		StudentID:           params.StudentID,
		Query:               params.Query,
		GradeLevel:          *params.GradeLevel,
		PersonalizationHint: params.PersonalizationHint,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidEntity) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
		}
		return nil, NewServiceError("submit", "failed to create request", err)
	}

	data, attrs, err := queue.Encode(queue.Payload{
		RequestID:           req.ID.String(),
		CorrelationID:       req.CorrelationID,
		StudentID:           req.StudentID,
		Query:               req.Query,
		GradeLevel:          params.GradeLevel,
		PersonalizationHint: req.PersonalizationHint,
		TopicID:             params.TopicID,
	})
	if err == nil {
		var messageID string
		messageID, err = s.publisher.Publish(ctx, data, attrs)
		if err == nil {
			log.Info("generation request submitted",
				slog.String("request_id", req.ID.String()),
				slog.String("message_id", messageID))
			return req, nil
		}
	}

	// A pending record without a message would never progress.
	log.Error("failed to enqueue generation request",
		slog.String("request_id", req.ID.String()),
		slog.String("error", redact.Error(err)))
	if _, markErr := s.requests.SetError(ctx, req.ID, domain.ErrorInfo{
		Message: redact.Error(err),
		Stage:   "enqueue",
	}); markErr != nil {
		log.Error("failed to mark unenqueued request as failed",
			slog.String("request_id", req.ID.String()),
			slog.String("error", markErr.Error()))
	}
	return nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
}

// GetStatus implements RequestService.
func (s *requestServiceImpl) GetStatus(ctx context.Context, id uuid.UUID) (*domain.GenerationRequest, error) {
	req, err := s.requests.GetStatus(ctx, id)
	if err != nil {
		return nil, NewServiceError("get status", "failed to read request", err)
	}
	return req, nil
}
