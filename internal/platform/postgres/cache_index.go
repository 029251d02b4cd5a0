package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/store"
)

const cacheColumns = `
	topic_id, grade_level, personalization_value,
	artifact_ref, script_text, thumbnail_ref, source_request_id,
	popularity, created_at, updated_at`

// PostgresCacheIndex implements store.CacheIndex on the cache_entries table.
type PostgresCacheIndex struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.CacheIndex = (*PostgresCacheIndex)(nil)

// NewPostgresCacheIndex creates a cache index. If logger is nil, the default
// logger is used.
func NewPostgresCacheIndex(db store.DBTX, logger *slog.Logger) *PostgresCacheIndex {
	if db == nil {
		// ALLOW-PANIC: constructor misuse
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCacheIndex{
		db:     db,
		logger: logger.With(slog.String("component", "cache_index")),
	}
}

// Lookup implements store.CacheIndex.
func (c *PostgresCacheIndex) Lookup(
	ctx context.Context,
	topicID string,
	gradeLevel int,
	candidates []string,
) (*domain.CacheEntry, error) {
	if len(candidates) == 0 {
		return nil, store.ErrCacheEntryNotFound
	}

	query := `SELECT ` + cacheColumns + `
		FROM cache_entries
		WHERE topic_id = $1 AND grade_level = $2 AND personalization_value = ANY($3)
		ORDER BY popularity DESC, personalization_value ASC
		LIMIT 1`

	entry, err := scanCacheEntry(c.db.QueryRowContext(ctx, query, topicID, gradeLevel, candidates))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrCacheEntryNotFound
		}
		logger.FromContextOrDefault(ctx, c.logger).Error("cache lookup failed",
			slog.String("error", err.Error()),
			slog.String("topic_id", topicID),
			slog.Int("grade_level", gradeLevel))
		return nil, err
	}
	return entry, nil
}

// Store implements store.CacheIndex with a single upsert, so concurrent
// writers of the same key end up with one row and a summed popularity.
func (c *PostgresCacheIndex) Store(
	ctx context.Context,
	key domain.CacheKey,
	results domain.Results,
	sourceRequestID uuid.UUID,
) (*domain.CacheEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var source any
	if sourceRequestID != uuid.Nil {
		source = sourceRequestID
	}

	query := `
		INSERT INTO cache_entries (
			topic_id, grade_level, personalization_value,
			artifact_ref, script_text, thumbnail_ref, source_request_id,
			popularity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
		ON CONFLICT (topic_id, grade_level, personalization_value) DO UPDATE
		SET popularity = cache_entries.popularity + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + cacheColumns

	entry, err := scanCacheEntry(c.db.QueryRowContext(ctx, query,
		key.TopicID, key.GradeLevel, key.PersonalizationValue,
		results.ArtifactRef, results.ScriptText, results.ThumbnailRef, source,
		time.Now().UTC(),
	))
	if err != nil {
		logger.FromContextOrDefault(ctx, c.logger).Error("cache store failed",
			slog.String("error", err.Error()),
			slog.String("cache_key", key.String()))
		return nil, err
	}
	return entry, nil
}

// RecordHit implements store.CacheIndex.
func (c *PostgresCacheIndex) RecordHit(ctx context.Context, key domain.CacheKey) error {
	query := `
		UPDATE cache_entries
		SET popularity = popularity + 1, updated_at = $4
		WHERE topic_id = $1 AND grade_level = $2 AND personalization_value = $3
	`
	result, err := c.db.ExecContext(ctx, query,
		key.TopicID, key.GradeLevel, key.PersonalizationValue, time.Now().UTC())
	if err != nil {
		logger.FromContextOrDefault(ctx, c.logger).Error("cache hit update failed",
			slog.String("error", err.Error()),
			slog.String("cache_key", key.String()))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrCacheEntryNotFound)
}

func scanCacheEntry(row rowScanner) (*domain.CacheEntry, error) {
	var (
		e      domain.CacheEntry
		source uuid.NullUUID
	)
	err := row.Scan(
		&e.Key.TopicID, &e.Key.GradeLevel, &e.Key.PersonalizationValue,
		&e.Results.ArtifactRef, &e.Results.ScriptText, &e.Results.ThumbnailRef, &source,
		&e.Popularity, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, MapError(err)
	}
	if source.Valid {
		e.SourceRequestID = source.UUID
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
