package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(maxAttempts int) (*queue.MemoryQueue, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.MemoryOptions{
		AckDeadline:         time.Minute,
		MaxDeliveryAttempts: maxAttempts,
		Logger:              logger.Discard(),
		Now:                 clock.Now,
	})
	return q, clock
}

func TestMemoryQueue_PublishPullAck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(3)

	id, err := q.Publish(ctx, []byte(`{"a":1}`), map[string]string{queue.AttrRequestID: "r1"})
	require.NoError(t, err)

	msgs, err := q.Pull(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, 1, msgs[0].DeliveryAttempt)
	assert.Equal(t, "r1", msgs[0].Attr(queue.AttrRequestID))

	require.NoError(t, q.Ack(ctx, msgs[0]))
	assert.ErrorIs(t, q.Ack(ctx, msgs[0]), queue.ErrMessageNotFound)

	ready, inflight, dead := q.Depth()
	assert.Zero(t, ready+inflight+dead)
}

func TestMemoryQueue_PullRespectsLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(3)
	for i := 0; i < 5; i++ {
		_, err := q.Publish(ctx, []byte("x"), nil)
		require.NoError(t, err)
	}

	msgs, err := q.Pull(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	ready, inflight, _ := q.Depth()
	assert.Equal(t, 3, ready)
	assert.Equal(t, 2, inflight)

	_, err = q.Pull(ctx, 0, 0)
	assert.Error(t, err)
}

func TestMemoryQueue_EmptyPullTimesOut(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(3)

	start := time.Now()
	msgs, err := q.Pull(context.Background(), 5, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueue_PullWakesOnPublish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(3)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = q.Publish(ctx, []byte("late"), nil)
	}()

	msgs, err := q.Pull(ctx, 1, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", string(msgs[0].Data))
}

func TestMemoryQueue_PullHonorsContext(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(3)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pull(ctx, 1, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_NackRedeliversImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(3)
	_, err := q.Publish(ctx, []byte("x"), nil)
	require.NoError(t, err)

	first, err := q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, first[0]))

	second, err := q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].DeliveryAttempt)

	assert.ErrorIs(t, q.Ack(ctx, first[0]), queue.ErrMessageNotFound, "stale delivery cannot ack")
	require.NoError(t, q.Ack(ctx, second[0]))
}

func TestMemoryQueue_RedeliveryAfterAckDeadline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, clock := newTestQueue(3)
	_, err := q.Publish(ctx, []byte("x"), nil)
	require.NoError(t, err)

	first, err := q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	msgs, err := q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "in-flight message is not redelivered before its deadline")

	clock.Advance(time.Minute)
	msgs, err = q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].DeliveryAttempt)
}

func TestMemoryQueue_DeadLetterAndReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(2)
	_, err := q.Publish(ctx, []byte("poison"), map[string]string{queue.AttrRequestID: "r9"})
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		msgs, err := q.Pull(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, attempt, msgs[0].DeliveryAttempt)
		require.NoError(t, q.Nack(ctx, msgs[0]))
	}

	msgs, err := q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", string(dead[0].Data))
	assert.Equal(t, 2, dead[0].DeliveryAttempt)
	assert.Equal(t, "r9", dead[0].Attributes[queue.AttrRequestID])
	assert.NotEmpty(t, dead[0].Reason)

	newID, err := q.Replay(ctx, dead[0].ID)
	require.NoError(t, err)
	_, err = q.Replay(ctx, dead[0].ID)
	assert.ErrorIs(t, err, queue.ErrMessageNotFound)

	msgs, err = q.Pull(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, newID, msgs[0].ID)
	assert.Equal(t, 1, msgs[0].DeliveryAttempt)
	assert.Empty(t, msgs[0].Attr(queue.AttrReason))
}

func TestMemoryQueue_Closed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := newTestQueue(3)
	require.NoError(t, q.Close())

	_, err := q.Publish(ctx, nil, nil)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	_, err = q.Pull(ctx, 1, 0)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}
