package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
)

// CacheIndex maps (topic, grade level, personalization value) to previously
// generated results.
type CacheIndex interface {
	// Lookup returns the most popular entry for topicID and gradeLevel whose
	// personalization value is one of candidates. Ties go to the smallest value.
	// Returns ErrCacheEntryNotFound when nothing matches.
	Lookup(ctx context.Context, topicID string, gradeLevel int, candidates []string) (*domain.CacheEntry, error)

	// Store inserts an entry with popularity 1, or increments the popularity of
	// the existing entry with the same key. The first stored results are kept.
	Store(ctx context.Context, key domain.CacheKey, results domain.Results, sourceRequestID uuid.UUID) (*domain.CacheEntry, error)

	// RecordHit increments popularity when an entry is reused.
	// Returns ErrCacheEntryNotFound if the key does not exist.
	RecordHit(ctx context.Context, key domain.CacheKey) error
}
