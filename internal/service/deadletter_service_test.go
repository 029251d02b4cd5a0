package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/phrazzld/vidgen/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDeadLetterQueue records the limit it was asked for.
type mockDeadLetterQueue struct {
	gotLimit      int
	DeadLettersFn func(ctx context.Context, limit int) ([]queue.DeadLetter, error)
	ReplayFn      func(ctx context.Context, id string) (string, error)
}

func (m *mockDeadLetterQueue) DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	m.gotLimit = limit
	if m.DeadLettersFn != nil {
		return m.DeadLettersFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockDeadLetterQueue) Replay(ctx context.Context, id string) (string, error) {
	return m.ReplayFn(ctx, id)
}

func deadLetterOne(t *testing.T, q *queue.MemoryQueue) {
	t.Helper()
	ctx := context.Background()
	_, err := q.Publish(ctx, []byte(`{"request_id":"x"}`), map[string]string{queue.AttrRequestID: "x"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		msgs, err := q.Pull(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.NoError(t, q.Nack(ctx, msgs[0]))
	}
	msgs, err := q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestDeadLetterService_ListAndReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newQueue()
	deadLetterOne(t, q)

	svc, err := service.NewDeadLetterService(q, nil)
	require.NoError(t, err)

	letters, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "x", letters[0].Attributes[queue.AttrRequestID])

	newID, err := svc.Replay(ctx, letters[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, newID)

	_, err = svc.Replay(ctx, letters[0].ID)
	assert.ErrorIs(t, err, service.ErrDeadLetterNotFound)

	letters, err = svc.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)

	msgs, err := q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, newID, msgs[0].ID)
}

func TestDeadLetterService_ListLimits(t *testing.T) {
	t.Parallel()
	dlq := &mockDeadLetterQueue{}
	svc, err := service.NewDeadLetterService(dlq, nil)
	require.NoError(t, err)

	_, err = svc.List(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, service.DefaultDeadLetterLimit, dlq.gotLimit)

	_, err = svc.List(context.Background(), 10_000)
	require.NoError(t, err)
	assert.Equal(t, service.MaxDeadLetterLimit, dlq.gotLimit)
}

func TestDeadLetterService_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("redis down")
	dlq := &mockDeadLetterQueue{
		DeadLettersFn: func(context.Context, int) ([]queue.DeadLetter, error) { return nil, boom },
		ReplayFn:      func(context.Context, string) (string, error) { return "", boom },
	}
	svc, err := service.NewDeadLetterService(dlq, nil)
	require.NoError(t, err)

	_, err = svc.List(context.Background(), 5)
	assert.ErrorIs(t, err, boom)
	var svcErr *service.ServiceError
	assert.ErrorAs(t, err, &svcErr)

	_, err = svc.Replay(context.Background(), "1-0")
	assert.ErrorIs(t, err, boom)

	_, err = svc.Replay(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrDeadLetterNotFound)

	_, err = service.NewDeadLetterService(nil, nil)
	assert.Error(t, err)
}
