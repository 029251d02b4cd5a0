package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/queue"
)

// Dead-letter listing bounds.
const (
	DefaultDeadLetterLimit = 50
	MaxDeadLetterLimit     = 500
)

// DeadLetterService administers messages that exhausted their delivery attempts.
type DeadLetterService interface {
	// List returns up to limit dead letters, oldest first. A non-positive limit
	// means DefaultDeadLetterLimit.
	List(ctx context.Context, limit int) ([]queue.DeadLetter, error)

	// Replay re-publishes a dead letter with a fresh attempt count and returns
	// the new message id.
	Replay(ctx context.Context, id string) (string, error)
}

type deadLetterServiceImpl struct {
	dlq    queue.DeadLetterQueue
	logger *slog.Logger
}

// NewDeadLetterService creates a DeadLetterService.
func NewDeadLetterService(dlq queue.DeadLetterQueue, logger *slog.Logger) (DeadLetterService, error) {
	if dlq == nil {
		return nil, errors.New("dead-letter queue cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &deadLetterServiceImpl{
		dlq:    dlq,
		logger: logger.With(slog.String("component", "dead_letter_service")),
	}, nil
}

// List implements DeadLetterService.
func (s *deadLetterServiceImpl) List(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	if limit <= 0 {
		limit = DefaultDeadLetterLimit
	}
	limit = min(limit, MaxDeadLetterLimit)

	letters, err := s.dlq.DeadLetters(ctx, limit)
	if err != nil {
		return nil, NewServiceError("list dead letters", "failed to read dead-letter queue", err)
	}
	return letters, nil
}

// Replay implements DeadLetterService.
func (s *deadLetterServiceImpl) Replay(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrDeadLetterNotFound
	}
	newID, err := s.dlq.Replay(ctx, id)
	if err != nil {
		return "", NewServiceError("replay dead letter", "failed to replay message", err)
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("dead letter replayed",
		slog.String("dead_letter_id", id),
		slog.String("message_id", newID))
	return newID, nil
}
