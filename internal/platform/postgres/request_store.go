package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/store"
)

const requestColumns = `
	id, correlation_id, student_id, query, grade_level, personalization_hint,
	status, progress, stage,
	artifact_ref, script_text, thumbnail_ref,
	error_message, error_stage, error_detail, retry_count,
	lease_owner, lease_expires_at,
	created_at, updated_at, started_at, completed_at, failed_at`

// PostgresRequestStore implements store.RequestStore on the generation_requests table.
//
// Every mutation loads the row with SELECT ... FOR UPDATE, applies the domain
// state machine and writes the whole row back in one transaction, so the
// transition rules live in one place and concurrent workers serialize per row.
type PostgresRequestStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ store.RequestStore = (*PostgresRequestStore)(nil)

// NewPostgresRequestStore creates a request store. If logger is nil, the
// default logger is used.
func NewPostgresRequestStore(db *sql.DB, logger *slog.Logger) *PostgresRequestStore {
	if db == nil {
		// ALLOW-PANIC: constructor misuse
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRequestStore{
		db:     db,
		logger: logger.With(slog.String("component", "request_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create implements store.RequestStore.
func (s *PostgresRequestStore) Create(
	ctx context.Context,
	params store.CreateRequestParams,
) (*domain.GenerationRequest, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	req, err := domain.NewGenerationRequest(
		params.StudentID,
		params.Query,
		params.GradeLevel,
		params.CorrelationID,
		params.PersonalizationHint,
	)
	if err != nil {
		log.Warn("generation request validation failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	if params.ID != uuid.Nil {
		req.ID = params.ID
	}
	now := s.now()
	req.CreatedAt = now
	req.UpdatedAt = now

	query := `
		INSERT INTO generation_requests (
			id, correlation_id, student_id, query, grade_level, personalization_hint,
			status, progress, stage, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		req.ID,
		req.CorrelationID,
		req.StudentID,
		req.Query,
		req.GradeLevel,
		req.PersonalizationHint,
		string(req.Status),
		req.Progress,
		req.Stage,
		now,
	)
	if err != nil {
		mapped := MapUniqueViolation(err, map[string]error{
			correlationIDConstraint: store.ErrDuplicateCorrelationID,
			requestPKConstraint:     store.ErrDuplicateRequestID,
		})
		log.Error("failed to create generation request",
			slog.String("error", err.Error()),
			slog.String("request_id", req.ID.String()),
			slog.String("correlation_id", req.CorrelationID))
		return nil, mapped
	}

	log.Info("generation request created",
		slog.String("request_id", req.ID.String()),
		slog.String("correlation_id", req.CorrelationID))
	return req, nil
}

// Transition implements store.RequestStore.
func (s *PostgresRequestStore) Transition(
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
func (s *PostgresRequestStore) SetResults(
	ctx context.Context,
	id uuid.UUID,
	results domain.Results,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "set_results", func(r *domain.GenerationRequest, now time.Time) error {
		return r.SetResults(results, now)
	})
}

// CompleteFromCache implements store.RequestStore.
func (s *PostgresRequestStore) CompleteFromCache(
	ctx context.Context,
	id uuid.UUID,
	results domain.Results,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "complete_from_cache", func(r *domain.GenerationRequest, now time.Time) error {
		return r.CompleteFromCache(results, now)
	})
}

// SetError implements store.RequestStore.
func (s *PostgresRequestStore) SetError(
	ctx context.Context,
	id uuid.UUID,
	info domain.ErrorInfo,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "set_error", func(r *domain.GenerationRequest, now time.Time) error {
		return r.SetError(info, now)
	})
}

// RecordAttemptError implements store.RequestStore.
func (s *PostgresRequestStore) RecordAttemptError(
	ctx context.Context,
	id uuid.UUID,
	info domain.ErrorInfo,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "record_attempt_error", func(r *domain.GenerationRequest, now time.Time) error {
		return r.RecordAttemptError(info, now)
	})
}

// Claim implements store.RequestStore.
func (s *PostgresRequestStore) Claim(
	ctx context.Context,
	id uuid.UUID,
	owner string,
	ttl time.Duration,
) (*domain.GenerationRequest, error) {
	return s.mutate(ctx, id, "claim", func(r *domain.GenerationRequest, now time.Time) error {
		return r.Claim(owner, ttl, now)
	})
}

// ReleaseLease implements store.RequestStore. It is a single conditional
// update; releasing a lease held by someone else is a no-op.
func (s *PostgresRequestStore) ReleaseLease(ctx context.Context, id uuid.UUID, owner string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE generation_requests
		SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_owner = $2
	`
	if _, err := s.db.ExecContext(ctx, query, id, owner); err != nil {
		log.Error("failed to release lease",
			slog.String("error", err.Error()),
			slog.String("request_id", id.String()))
		return MapError(err)
	}
	return nil
}

// GetStatus implements store.RequestStore.
func (s *PostgresRequestStore) GetStatus(ctx context.Context, id uuid.UUID) (*domain.GenerationRequest, error) {
	req, err := s.get(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListByStatus implements store.RequestStore.
func (s *PostgresRequestStore) ListByStatus(
	ctx context.Context,
	status domain.RequestStatus,
	limit int,
) ([]*domain.GenerationRequest, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + requestColumns + `
		FROM generation_requests
		WHERE status = $1
		ORDER BY updated_at DESC, id
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		log.Error("failed to list generation requests",
			slog.String("error", err.Error()),
			slog.String("status", string(status)))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *PostgresRequestStore) mutate(
	ctx context.Context,
	id uuid.UUID,
	op string,
	fn func(r *domain.GenerationRequest, now time.Time) error,
) (*domain.GenerationRequest, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("operation", op),
		slog.String("request_id", id.String()))

	var out *domain.GenerationRequest
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		req, err := s.get(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if err := fn(req, s.now()); err != nil {
			return err
		}

		if err := s.update(ctx, tx, req); err != nil {
			return err
		}

		out = req
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound),
			errors.Is(err, domain.ErrInvalidTransition),
			errors.Is(err, domain.ErrInvalidProgress),
			errors.Is(err, domain.ErrInvalidStatus),
			errors.Is(err, domain.ErrMissingResults),
			errors.Is(err, domain.ErrLeaseHeld):
			log.Debug("request mutation rejected", slog.String("error", err.Error()))
		default:
			log.Error("request mutation failed", slog.String("error", err.Error()))
		}
		return nil, err
	}

	log.Debug("request mutation committed",
		slog.String("status", string(out.Status)),
		slog.Int("progress", out.Progress))
	return out, nil
}

func (s *PostgresRequestStore) get(
	ctx context.Context,
	db store.DBTX,
	id uuid.UUID,
	forUpdate bool,
) (*domain.GenerationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM generation_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	req, err := scanRequest(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

func (s *PostgresRequestStore) update(ctx context.Context, tx *sql.Tx, r *domain.GenerationRequest) error {
	var artifactRef, scriptText, thumbnailRef sql.NullString
	if r.Results != nil {
		artifactRef = sql.NullString{String: r.Results.ArtifactRef, Valid: true}
		scriptText = sql.NullString{String: r.Results.ScriptText, Valid: true}
		thumbnailRef = sql.NullString{String: r.Results.ThumbnailRef, Valid: true}
	}

	var errMessage, errStage, errDetail sql.NullString
	if r.LastError != nil {
		errMessage = sql.NullString{String: r.LastError.Message, Valid: true}
		errStage = sql.NullString{String: r.LastError.Stage, Valid: true}
		if len(r.LastError.Detail) > 0 {
			errDetail = sql.NullString{String: string(r.LastError.Detail), Valid: true}
		}
	}

	leaseOwner := sql.NullString{String: r.LeaseOwner, Valid: r.LeaseOwner != ""}

	query := `
		UPDATE generation_requests SET
			status = $2, progress = $3, stage = $4,
			artifact_ref = $5, script_text = $6, thumbnail_ref = $7,
			error_message = $8, error_stage = $9, error_detail = $10, retry_count = $11,
			lease_owner = $12, lease_expires_at = $13,
			updated_at = $14, started_at = $15, completed_at = $16, failed_at = $17
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query,
		r.ID,
		string(r.Status), r.Progress, r.Stage,
		artifactRef, scriptText, thumbnailRef,
		errMessage, errStage, errDetail, r.RetryCount,
		leaseOwner, nullTime(r.LeaseExpiresAt),
		r.UpdatedAt, nullTime(r.StartedAt), nullTime(r.CompletedAt), nullTime(r.FailedAt),
	)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrRequestNotFound)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.GenerationRequest, error) {
	var (
		r                                     domain.GenerationRequest
		status                                string
		artifactRef, scriptText, thumbnailRef sql.NullString
		errMessage, errStage, errDetail       sql.NullString
		leaseOwner                            sql.NullString
		leaseExpiresAt                        sql.NullTime
		startedAt, completedAt, failedAt      sql.NullTime
	)

	err := row.Scan(
		&r.ID, &r.CorrelationID, &r.StudentID, &r.Query, &r.GradeLevel, &r.PersonalizationHint,
		&status, &r.Progress, &r.Stage,
		&artifactRef, &scriptText, &thumbnailRef,
		&errMessage, &errStage, &errDetail, &r.RetryCount,
		&leaseOwner, &leaseExpiresAt,
		&r.CreatedAt, &r.UpdatedAt, &startedAt, &completedAt, &failedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, MapError(err)
	}

	r.Status = domain.RequestStatus(status)
	if artifactRef.Valid {
		r.Results = &domain.Results{
			ArtifactRef:  artifactRef.String,
			ScriptText:   scriptText.String,
			ThumbnailRef: thumbnailRef.String,
		}
	}
	if errMessage.Valid {
		r.LastError = &domain.ErrorInfo{Message: errMessage.String, Stage: errStage.String}
		if errDetail.Valid {
			r.LastError.Detail = []byte(errDetail.String)
		}
	}
	r.LeaseOwner = leaseOwner.String
	r.LeaseExpiresAt = timePtr(leaseExpiresAt)
	r.StartedAt = timePtr(startedAt)
	r.CompletedAt = timePtr(completedAt)
	r.FailedAt = timePtr(failedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()

	return &r, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
