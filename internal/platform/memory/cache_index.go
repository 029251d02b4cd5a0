package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/store"
)

// CacheIndex keeps cache entries in a map keyed by CacheKey.
type CacheIndex struct {
	mu      sync.RWMutex
	entries map[domain.CacheKey]*domain.CacheEntry
	now     func() time.Time
}

var _ store.CacheIndex = (*CacheIndex)(nil)

// NewCacheIndex creates an empty index.
func NewCacheIndex() *CacheIndex {
	return &CacheIndex{
		entries: make(map[domain.CacheKey]*domain.CacheEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Lookup implements store.CacheIndex.
func (c *CacheIndex) Lookup(
	_ context.Context,
	topicID string,
	gradeLevel int,
	candidates []string,
) (*domain.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []*domain.CacheEntry
	for _, v := range candidates {
		key := domain.CacheKey{TopicID: topicID, GradeLevel: gradeLevel, PersonalizationValue: v}
		if e, ok := c.entries[key]; ok {
			matches = append(matches, e)
		}
	}

	best := domain.BestEntry(matches)
	if best == nil {
		return nil, store.ErrCacheEntryNotFound
	}
	cp := *best
	return &cp, nil
}

// Store implements store.CacheIndex.
func (c *CacheIndex) Store(
	_ context.Context,
	key domain.CacheKey,
	results domain.Results,
	sourceRequestID uuid.UUID,
) (*domain.CacheEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if ok {
		e.Popularity++
		e.UpdatedAt = now
	} else {
		e = &domain.CacheEntry{
			Key:             key,
			Results:         results,
			SourceRequestID: sourceRequestID,
			Popularity:      1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		c.entries[key] = e
	}

	cp := *e
	return &cp, nil
}

// RecordHit implements store.CacheIndex.
func (c *CacheIndex) RecordHit(_ context.Context, key domain.CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return store.ErrCacheEntryNotFound
	}
	e.Popularity++
	e.UpdatedAt = c.now()
	return nil
}

// Len returns the number of entries.
func (c *CacheIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
