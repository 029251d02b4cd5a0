package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/platform/memory"
	"github.com/phrazzld/vidgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRequest(t *testing.T, s *memory.RequestStore) *domain.GenerationRequest {
	t.Helper()
	req, err := s.Create(context.Background(), store.CreateRequestParams{
		CorrelationID:       "corr-" + uuid.NewString(),
		StudentID:           "student-1",
		Query:               "How do levers work?",
		GradeLevel:          7,
		PersonalizationHint: "skateboarding",
	})
	require.NoError(t, err)
	return req
}

func TestRequestStore_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewRequestStore(nil)

	req := createRequest(t, s)
	assert.Equal(t, domain.RequestStatusPending, req.Status)
	assert.Equal(t, 0, req.Progress)

	_, err := s.Create(ctx, store.CreateRequestParams{
		CorrelationID: req.CorrelationID,
		StudentID:     "student-2",
		Query:         "q",
		GradeLevel:    3,
	})
	assert.ErrorIs(t, err, store.ErrDuplicateCorrelationID)

	fixed := uuid.New()
	got, err := s.Create(ctx, store.CreateRequestParams{
		ID: fixed, CorrelationID: "c-fixed", StudentID: "s", Query: "q", GradeLevel: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, fixed, got.ID)

	_, err = s.Create(ctx, store.CreateRequestParams{CorrelationID: "c-bad", Query: "q", GradeLevel: 1})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRequestStore_GetStatusNotFound(t *testing.T) {
	t.Parallel()
	s := memory.NewRequestStore(nil)

	_, err := s.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrRequestNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestRequestStore_MonotonicTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewRequestStore(nil)
	req := createRequest(t, s)

	_, err := s.Transition(ctx, req.ID, domain.RequestStatusGenerating, 50, "x")
	require.NoError(t, err)

	_, err = s.Transition(ctx, req.ID, domain.RequestStatusValidating, 10, "y")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.GetStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusGenerating, got.Status)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, "x", got.Stage)
}

func TestRequestStore_ResultsAndErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewRequestStore(nil)

	t.Run("set results completes", func(t *testing.T) {
		req := createRequest(t, s)
		_, err := s.SetResults(ctx, req.ID, domain.Results{ArtifactRef: "a"})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = s.Transition(ctx, req.ID, domain.RequestStatusGenerating, 10, "generating")
		require.NoError(t, err)
		got, err := s.SetResults(ctx, req.ID, domain.Results{ArtifactRef: "a", ScriptText: "s", ThumbnailRef: "t"})
		require.NoError(t, err)
		assert.Equal(t, domain.RequestStatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		require.NotNil(t, got.CompletedAt)
		assert.NoError(t, got.Validate())
	})

	t.Run("set error fails and counts", func(t *testing.T) {
		req := createRequest(t, s)
		got, err := s.SetError(ctx, req.ID, domain.ErrorInfo{Message: "bad", Stage: "validation"})
		require.NoError(t, err)
		assert.Equal(t, domain.RequestStatusFailed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		assert.Nil(t, got.Results)

		_, err = s.SetError(ctx, req.ID, domain.ErrorInfo{Message: "again"})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("attempt error keeps status", func(t *testing.T) {
		req := createRequest(t, s)
		_, err := s.Transition(ctx, req.ID, domain.RequestStatusGenerating, 10, "generating")
		require.NoError(t, err)
		got, err := s.RecordAttemptError(ctx, req.ID, domain.ErrorInfo{Message: "timeout", Stage: "pipeline"})
		require.NoError(t, err)
		assert.Equal(t, domain.RequestStatusGenerating, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "pipeline", got.LastError.Stage)
	})

	t.Run("complete from cache", func(t *testing.T) {
		req := createRequest(t, s)
		got, err := s.CompleteFromCache(ctx, req.ID, domain.Results{ArtifactRef: "cached"})
		require.NoError(t, err)
		assert.Equal(t, domain.RequestStatusCompleted, got.Status)
		assert.Equal(t, "cached", got.Results.ArtifactRef)
	})
}

func TestRequestStore_Lease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewRequestStore(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	req := createRequest(t, s)

	_, err := s.Claim(ctx, req.ID, "a", time.Minute)
	require.NoError(t, err)
	_, err = s.Claim(ctx, req.ID, "b", time.Minute)
	assert.ErrorIs(t, err, store.ErrLeaseHeld)

	require.NoError(t, s.ReleaseLease(ctx, req.ID, "a"))
	got, err := s.Claim(ctx, req.ID, "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", got.LeaseOwner)

	now = now.Add(2 * time.Minute)
	_, err = s.Claim(ctx, req.ID, "c", time.Minute)
	assert.NoError(t, err, "expired lease can be taken over")
}

func TestRequestStore_ReadersSeeConsistentSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewRequestStore(nil)
	req := createRequest(t, s)
	_, err := s.Transition(ctx, req.ID, domain.RequestStatusGenerating, 10, "generating")
	require.NoError(t, err)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			snap, err := s.GetStatus(ctx, req.ID)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, snap.Validate())
		}
	}()

	_, err = s.Transition(ctx, req.ID, domain.RequestStatusUploading, 90, "uploading")
	require.NoError(t, err)
	_, err = s.SetResults(ctx, req.ID, domain.Results{ArtifactRef: "a"})
	require.NoError(t, err)
	close(done)
	wg.Wait()
}

func TestRequestStore_ListByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewRequestStore(nil)

	a := createRequest(t, s)
	b := createRequest(t, s)
	createRequest(t, s)
	_, err := s.SetError(ctx, a.ID, domain.ErrorInfo{Message: "x"})
	require.NoError(t, err)
	_, err = s.SetError(ctx, b.ID, domain.ErrorInfo{Message: "y"})
	require.NoError(t, err)

	failed, err := s.ListByStatus(ctx, domain.RequestStatusFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	limited, err := s.ListByStatus(ctx, domain.RequestStatusFailed, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	pending, err := s.ListByStatus(ctx, domain.RequestStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRequestStore_TransitionRejectsFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewRequestStore(nil)
	req := createRequest(t, s)

	_, err := s.Transition(ctx, req.ID, domain.RequestStatusGenerating, domain.ProgressGenerating, "generating")
	require.NoError(t, err)

	_, err = s.Transition(ctx, req.ID, domain.RequestStatusFailed, domain.ProgressGenerating, "gave up")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.GetStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusGenerating, got.Status)
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.FailedAt)
}
