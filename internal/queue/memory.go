package queue

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOptions configures a MemoryQueue.
type MemoryOptions struct {
	AckDeadline         time.Duration
	MaxDeliveryAttempts int
	Logger              *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type memoryEntry struct {
	id          string
	data        []byte
	attrs       map[string]string
	attempts    int
	publishedAt time.Time
	deadline    time.Time
}

// MemoryQueue is an in-process queue with ack deadlines, delivery attempt
// counting and dead-lettering. It implements Publisher, Client and
// DeadLetterQueue.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []*memoryEntry
	inflight map[string]*memoryEntry
	dead     []DeadLetter
	closed   bool
	notify   chan struct{}

	ackDeadline time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

var (
	_ Publisher       = (*MemoryQueue)(nil)
	_ Client          = (*MemoryQueue)(nil)
	_ DeadLetterQueue = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates an empty queue. Zero options default to a 10 minute
// ack deadline and 5 delivery attempts.
func NewMemoryQueue(opts MemoryOptions) *MemoryQueue {
	if opts.AckDeadline <= 0 {
		opts.AckDeadline = 10 * time.Minute
	}
	if opts.MaxDeliveryAttempts <= 0 {
		opts.MaxDeliveryAttempts = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MemoryQueue{
		inflight:    make(map[string]*memoryEntry),
		notify:      make(chan struct{}, 1),
		ackDeadline: opts.AckDeadline,
		maxAttempts: opts.MaxDeliveryAttempts,
		now:         opts.Now,
		logger:      opts.Logger.With(slog.String("component", "memory_queue")),
	}
}

// Publish implements Publisher.
func (q *MemoryQueue) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	e := &memoryEntry{
		id:          uuid.NewString(),
		data:        append([]byte(nil), data...),
		attrs:       maps.Clone(attrs),
		publishedAt: q.now(),
	}
	q.ready = append(q.ready, e)
	q.signal()
	return e.id, nil
}

// Pull implements Client.
func (q *MemoryQueue) Pull(ctx context.Context, limit int, timeout time.Duration) ([]*Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("pull: limit must be positive, got %d", limit)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		msgs, next, err := q.take(limit)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		if timer == nil {
			return nil, nil
		}
		if !q.wait(ctx, timer, next) {
			return nil, ctx.Err()
		}
	}
}

// wait blocks until something may be deliverable. It returns false when the
// pull should end: the context is done or the pull timeout fired.
func (q *MemoryQueue) wait(ctx context.Context, timeout <-chan time.Time, next time.Time) bool {
	var wake <-chan time.Time
	if !next.IsZero() {
		t := time.NewTimer(max(next.Sub(q.now()), time.Millisecond))
		defer t.Stop()
		wake = t.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-timeout:
		return false
	case <-q.notify:
	case <-wake:
	}
	return true
}

// take delivers up to limit ready messages, dead-lettering any that already
// used their delivery attempts. It also returns the earliest in-flight
// deadline so a blocked Pull can wake for redelivery.
func (q *MemoryQueue) take(limit int) ([]*Message, time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, time.Time{}, ErrQueueClosed
	}

	now := q.now()
	q.expireLocked(now)

	var msgs []*Message
	for len(msgs) < limit && len(q.ready) > 0 {
		e := q.ready[0]
		q.ready = q.ready[1:]

		if e.attempts >= q.maxAttempts {
			q.deadLetterLocked(e, "max delivery attempts exceeded", now)
			continue
		}

		e.attempts++
		e.deadline = now.Add(q.ackDeadline)
		q.inflight[e.id] = e
		msgs = append(msgs, e.message())
	}

	var next time.Time
	for _, e := range q.inflight {
		if next.IsZero() || e.deadline.Before(next) {
			next = e.deadline
		}
	}
	return msgs, next, nil
}

// expireLocked returns in-flight entries whose deadline passed to the ready list.
func (q *MemoryQueue) expireLocked(now time.Time) {
	for id, e := range q.inflight {
		if !now.Before(e.deadline) {
			delete(q.inflight, id)
			q.ready = append(q.ready, e)
			q.logger.Debug("ack deadline expired",
				slog.String("message_id", id),
				slog.Int("delivery_attempt", e.attempts))
		}
	}
}

func (q *MemoryQueue) deadLetterLocked(e *memoryEntry, reason string, now time.Time) {
	attrs := maps.Clone(e.attrs)
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs[AttrReason] = reason

	q.dead = append(q.dead, DeadLetter{
		ID:              uuid.NewString(),
		OriginalID:      e.id,
		Data:            e.data,
		Attributes:      attrs,
		DeliveryAttempt: e.attempts,
		Reason:          reason,
		DeadLetteredAt:  now,
	})
	q.logger.Warn("message dead-lettered",
		slog.String("message_id", e.id),
		slog.String(AttrRequestID, e.attrs[AttrRequestID]),
		slog.Int("delivery_attempt", e.attempts),
		slog.String("reason", reason))
}

// Ack implements Client. Acking a delivery that was already redelivered or
// acked returns ErrMessageNotFound.
func (q *MemoryQueue) Ack(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.inflightLocked(msg); err != nil {
		return err
	}
	delete(q.inflight, msg.ID)
	return nil
}

// Nack implements Client.
func (q *MemoryQueue) Nack(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.inflightLocked(msg)
	if err != nil {
		return err
	}
	delete(q.inflight, msg.ID)
	q.ready = append(q.ready, e)
	q.signal()
	return nil
}

func (q *MemoryQueue) inflightLocked(msg *Message) (*memoryEntry, error) {
	if q.closed {
		return nil, ErrQueueClosed
	}
	e, ok := q.inflight[msg.ID]
	if !ok || e.attempts != msg.DeliveryAttempt {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, msg.ID)
	}
	return e, nil
}

// DeadLetters implements DeadLetterQueue, oldest first.
func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetter, 0, len(q.dead))
	for _, d := range q.dead {
		if limit > 0 && len(out) == limit {
			break
		}
		d.Attributes = maps.Clone(d.Attributes)
		out = append(out, d)
	}
	return out, nil
}

// Replay implements DeadLetterQueue.
func (q *MemoryQueue) Replay(_ context.Context, id string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	for i, d := range q.dead {
		if d.ID != id {
			continue
		}
		q.dead = append(q.dead[:i], q.dead[i+1:]...)

		attrs := maps.Clone(d.Attributes)
		delete(attrs, AttrReason)
		e := &memoryEntry{
			id:          uuid.NewString(),
			data:        d.Data,
			attrs:       attrs,
			publishedAt: q.now(),
		}
		q.ready = append(q.ready, e)
		q.signal()
		return e.id, nil
	}
	return "", fmt.Errorf("%w: dead letter %s", ErrMessageNotFound, id)
}

// Depth reports the number of ready, in-flight and dead-lettered messages.
func (q *MemoryQueue) Depth() (ready, inflight, dead int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.inflight), len(q.dead)
}

// Close makes every further operation fail with ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (e *memoryEntry) message() *Message {
	return &Message{
		ID:              e.id,
		Data:            append([]byte(nil), e.data...),
		Attributes:      maps.Clone(e.attrs),
		DeliveryAttempt: e.attempts,
		PublishTime:     e.publishedAt,
		Deadline:        e.deadline,
	}
}
