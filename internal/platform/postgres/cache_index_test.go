package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/platform/postgres"
	"github.com/phrazzld/vidgen/internal/store"
	"github.com/phrazzld/vidgen/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniqueTopic keeps parallel tests from seeing each other's rows.
func uniqueTopic() string {
	return "topic_" + uuid.NewString()
}

func TestPostgresCacheIndex_LookupAndStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := postgres.NewPostgresCacheIndex(testdb.Open(t), logger.Discard())
	topic := uniqueTopic()

	ball := domain.CacheKey{TopicID: topic, GradeLevel: 10, PersonalizationValue: "basketball"}
	music := domain.CacheKey{TopicID: topic, GradeLevel: 10, PersonalizationValue: "music"}

	entry, err := c.Store(ctx, ball, domain.Results{ArtifactRef: "A", ScriptText: "s", ThumbnailRef: "t"}, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Popularity)

	_, err = c.Store(ctx, music, domain.Results{ArtifactRef: "M"}, uuid.Nil)
	require.NoError(t, err)

	got, err := c.Lookup(ctx, topic, 10, []string{"basketball", "music"})
	require.NoError(t, err)
	assert.Equal(t, "A", got.Results.ArtifactRef, "tie resolves to the smallest value")
	assert.Equal(t, "s", got.Results.ScriptText)

	require.NoError(t, c.RecordHit(ctx, music))
	require.NoError(t, c.RecordHit(ctx, music))
	got, err = c.Lookup(ctx, topic, 10, []string{"basketball", "music"})
	require.NoError(t, err)
	assert.Equal(t, "M", got.Results.ArtifactRef)
	assert.Equal(t, int64(3), got.Popularity)
	assert.Equal(t, uuid.Nil, got.SourceRequestID)

	_, err = c.Lookup(ctx, topic, 11, []string{"basketball"})
	assert.ErrorIs(t, err, store.ErrCacheEntryNotFound)

	assert.ErrorIs(t, c.RecordHit(ctx, domain.CacheKey{TopicID: topic, GradeLevel: 1, PersonalizationValue: "x"}),
		store.ErrCacheEntryNotFound)
}

func TestPostgresCacheIndex_ConcurrentStoreSameKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := postgres.NewPostgresCacheIndex(testdb.Open(t), logger.Discard())
	key := domain.CacheKey{TopicID: uniqueTopic(), GradeLevel: 10, PersonalizationValue: "basketball"}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.Store(ctx, key, domain.Results{ArtifactRef: "A"}, uuid.New())
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	got, err := c.Lookup(ctx, key.TopicID, key.GradeLevel, []string{key.PersonalizationValue})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Popularity)
}
