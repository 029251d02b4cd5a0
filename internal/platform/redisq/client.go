package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/redis/go-redis/v9"
)

// Reserved stream fields. Every other field is a message attribute.
const (
	fieldPayload        = "payload"
	fieldAttempt        = "attempt"
	fieldEnqueuedAt     = "enqueued_at"
	fieldOriginalID     = "original_id"
	fieldDeadLetteredAt = "dead_lettered_at"
)

// forwardScript retires an entry from KEYS[1] and appends the given fields to
// KEYS[2] in one step. It returns nil when the entry was not pending, which
// means another consumer already acked or forwarded it.
var forwardScript = redis.NewScript(`
local acked = redis.call('XACK', KEYS[1], ARGV[1], ARGV[2])
if acked == 0 then
	return false
end
redis.call('XDEL', KEYS[1], ARGV[2])
return redis.call('XADD', KEYS[2], '*', unpack(ARGV, 3))
`)

// Options configures a Client.
type Options struct {
	Stream              string
	Group               string
	Consumer            string
	DeadLetterStream    string
	AckDeadline         time.Duration
	MaxDeliveryAttempts int
	Logger              *slog.Logger
}

// Client implements queue.Publisher, queue.Client and queue.DeadLetterQueue.
type Client struct {
	rdb  redis.UniversalClient
	opts Options
	log  *slog.Logger
}

var (
	_ queue.Publisher       = (*Client)(nil)
	_ queue.Client          = (*Client)(nil)
	_ queue.DeadLetterQueue = (*Client)(nil)
)

// Connect parses a redis:// URL and verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// New creates a client and makes sure the consumer group exists.
func New(ctx context.Context, rdb redis.UniversalClient, opts Options) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if opts.Stream == "" || opts.Group == "" || opts.DeadLetterStream == "" {
		return nil, errors.New("stream, group and dead-letter stream are required")
	}
	if opts.Consumer == "" {
		opts.Consumer = "vidgen-" + uuid.NewString()[:8]
	}
	if opts.AckDeadline <= 0 {
		opts.AckDeadline = 10 * time.Minute
	}
	if opts.MaxDeliveryAttempts <= 0 {
		opts.MaxDeliveryAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		rdb:  rdb,
		opts: opts,
		log: opts.Logger.With(
			slog.String("component", "redis_queue"),
			slog.String("stream", opts.Stream),
			slog.String("consumer", opts.Consumer),
		),
	}
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Consumer returns the consumer name used in the group.
func (c *Client) Consumer() string {
	return c.opts.Consumer
}

// Leave removes this consumer from the group when it owns no pending entries.
// Each worker execution joins under its own name. A consumer that still owns
// entries is kept; others reclaim them after the ack deadline.
func (c *Client) Leave(ctx context.Context) error {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   c.opts.Stream,
		Group:    c.opts.Group,
		Start:    "-",
		End:      "+",
		Count:    1,
		Consumer: c.opts.Consumer,
	}).Result()
	if err != nil {
		return fmt.Errorf("xpending: %w", err)
	}
	if len(pending) > 0 {
		c.log.Info("consumer still owns pending entries, keeping it in the group")
		return nil
	}
	if err := c.rdb.XGroupDelConsumer(ctx, c.opts.Stream, c.opts.Group, c.opts.Consumer).Err(); err != nil {
		return fmt.Errorf("xgroup delconsumer: %w", err)
	}
	c.log.Debug("consumer left group")
	return nil
}

// Publish implements queue.Publisher.
func (c *Client) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.opts.Stream,
		Values: entryFields(data, attrs, 1, time.Now().UTC()),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Pull implements queue.Client. Expired deliveries are reclaimed first; new
// entries are read only to fill the remaining room, blocking up to timeout
// when nothing was reclaimed.
func (c *Client) Pull(ctx context.Context, limit int, timeout time.Duration) ([]*queue.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("pull: limit must be positive, got %d", limit)
	}

	msgs, err := c.reclaim(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(msgs) >= limit {
		return msgs, nil
	}

	// A negative block omits BLOCK; zero would block forever.
	block := time.Duration(-1)
	if len(msgs) == 0 && timeout > 0 {
		block = max(timeout, time.Millisecond)
	}
	fresh, err := c.readNew(ctx, limit-len(msgs), block)
	if err != nil {
		if len(msgs) > 0 {
			c.log.Warn("read after reclaim failed", slog.String("error", err.Error()))
			return msgs, nil
		}
		return nil, err
	}
	return append(msgs, fresh...), nil
}

func (c *Client) reclaim(ctx context.Context, limit int) ([]*queue.Message, error) {
	entries, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.opts.Stream,
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		MinIdle:  c.opts.AckDeadline,
		Start:    "0-0",
		Count:    int64(limit),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}

	msgs := make([]*queue.Message, 0, len(entries))
	for _, entry := range entries {
		deliveries, err := c.deliveryCount(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		msg := c.toMessage(entry, deliveries)
		if msg.DeliveryAttempt > c.opts.MaxDeliveryAttempts {
			c.deadLetter(ctx, msg, "max delivery attempts exceeded")
			continue
		}
		c.log.Debug("reclaimed expired delivery",
			slog.String("message_id", entry.ID),
			slog.Int("delivery_attempt", msg.DeliveryAttempt))
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *Client) readNew(ctx context.Context, count int, block time.Duration) ([]*queue.Message, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var msgs []*queue.Message
	for _, s := range streams {
		for _, entry := range s.Messages {
			msg := c.toMessage(entry, 1)
			if msg.DeliveryAttempt > c.opts.MaxDeliveryAttempts {
				c.deadLetter(ctx, msg, "max delivery attempts exceeded")
				continue
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// deliveryCount reads the group's delivery counter for one pending entry.
func (c *Client) deliveryCount(ctx context.Context, id string) (int, error) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.opts.Stream,
		Group:  c.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return 1, nil
	}
	return int(pending[0].RetryCount), nil
}

// Ack implements queue.Client.
func (c *Client) Ack(ctx context.Context, msg *queue.Message) error {
	var ack *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ack = pipe.XAck(ctx, c.opts.Stream, c.opts.Group, msg.ID)
		pipe.XDel(ctx, c.opts.Stream, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	if ack.Val() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrMessageNotFound, msg.ID)
	}
	return nil
}

// Nack implements queue.Client.
func (c *Client) Nack(ctx context.Context, msg *queue.Message) error {
	fields := entryFields(msg.Data, msg.Attributes, msg.DeliveryAttempt+1, msg.PublishTime)
	_, err := c.forward(ctx, msg.ID, c.opts.Stream, fields)
	return err
}

// deadLetter moves msg to the dead-letter stream. Failures are logged; the
// entry stays pending and is retried on the next reclaim.
func (c *Client) deadLetter(ctx context.Context, msg *queue.Message, reason string) {
	attrs := make(map[string]string, len(msg.Attributes)+3)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[queue.AttrReason] = reason
	attrs[fieldOriginalID] = msg.ID
	attrs[fieldDeadLetteredAt] = time.Now().UTC().Format(time.RFC3339Nano)

	fields := entryFields(msg.Data, attrs, msg.DeliveryAttempt-1, msg.PublishTime)
	if _, err := c.forward(ctx, msg.ID, c.opts.DeadLetterStream, fields); err != nil {
		c.log.Error("failed to dead-letter message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()))
		return
	}
	c.log.Warn("message dead-lettered",
		slog.String("message_id", msg.ID),
		slog.String(queue.AttrRequestID, msg.Attr(queue.AttrRequestID)),
		slog.Int("delivery_attempt", msg.DeliveryAttempt-1),
		slog.String("reason", reason))
}

func (c *Client) forward(ctx context.Context, id, target string, fields []any) (string, error) {
	args := append([]any{c.opts.Group, id}, fields...)
	res, err := forwardScript.Run(ctx, c.rdb, []string{c.opts.Stream, target}, args...).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s", queue.ErrMessageNotFound, id)
		}
		return "", fmt.Errorf("forward %s to %s: %w", id, target, err)
	}
	return res, nil
}

// DeadLetters implements queue.DeadLetterQueue, oldest first.
func (c *Client) DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	var (
		entries []redis.XMessage
		err     error
	)
	if limit > 0 {
		entries, err = c.rdb.XRangeN(ctx, c.opts.DeadLetterStream, "-", "+", int64(limit)).Result()
	} else {
		entries, err = c.rdb.XRange(ctx, c.opts.DeadLetterStream, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}

	out := make([]queue.DeadLetter, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toDeadLetter(entry))
	}
	return out, nil
}

// Replay implements queue.DeadLetterQueue.
func (c *Client) Replay(ctx context.Context, id string) (string, error) {
	entries, err := c.rdb.XRangeN(ctx, c.opts.DeadLetterStream, id, id, 1).Result()
	if err != nil {
		return "", fmt.Errorf("xrange: %w", err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: dead letter %s", queue.ErrMessageNotFound, id)
	}

	dl := toDeadLetter(entries[0])
	attrs := make(map[string]string, len(dl.Attributes))
	for k, v := range dl.Attributes {
		attrs[k] = v
	}
	delete(attrs, queue.AttrReason)
	delete(attrs, fieldOriginalID)
	delete(attrs, fieldDeadLetteredAt)

	var add *redis.StringCmd
	var del *redis.IntCmd
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		add = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.opts.Stream,
			Values: entryFields(dl.Data, attrs, 1, time.Now().UTC()),
		})
		del = pipe.XDel(ctx, c.opts.DeadLetterStream, id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("replay %s: %w", id, err)
	}
	if del.Val() == 0 {
		c.log.Warn("dead letter replayed concurrently", slog.String("dead_letter_id", id))
	}
	c.log.Info("dead letter replayed",
		slog.String("dead_letter_id", id),
		slog.String("message_id", add.Val()),
		slog.String(queue.AttrRequestID, attrs[queue.AttrRequestID]))
	return add.Val(), nil
}

func entryFields(data []byte, attrs map[string]string, attempt int, enqueuedAt time.Time) []any {
	fields := []any{
		fieldPayload, string(data),
		fieldAttempt, strconv.Itoa(attempt),
		fieldEnqueuedAt, enqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range attrs {
		switch k {
		case fieldPayload, fieldAttempt, fieldEnqueuedAt:
			continue
		}
		fields = append(fields, k, v)
	}
	return fields
}

type decodedEntry struct {
	data       []byte
	attrs      map[string]string
	attempt    int
	enqueuedAt time.Time
}

func decodeEntry(entry redis.XMessage) decodedEntry {
	d := decodedEntry{attrs: make(map[string]string), attempt: 1}
	for k, v := range entry.Values {
		s := fmt.Sprint(v)
		switch k {
		case fieldPayload:
			d.data = []byte(s)
		case fieldAttempt:
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				d.attempt = n
			}
		case fieldEnqueuedAt:
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				d.enqueuedAt = t
			}
		default:
			d.attrs[k] = s
		}
	}
	return d
}

// toMessage builds a delivery. The attempt counter carried in the entry counts
// earlier nacked copies; deliveries counts deliveries of this entry.
func (c *Client) toMessage(entry redis.XMessage, deliveries int) *queue.Message {
	d := decodeEntry(entry)
	if deliveries < 1 {
		deliveries = 1
	}
	return &queue.Message{
		ID:              entry.ID,
		Data:            d.data,
		Attributes:      d.attrs,
		DeliveryAttempt: d.attempt + deliveries - 1,
		PublishTime:     d.enqueuedAt,
		Deadline:        time.Now().Add(c.opts.AckDeadline),
	}
}

func toDeadLetter(entry redis.XMessage) queue.DeadLetter {
	d := decodeEntry(entry)
	dl := queue.DeadLetter{
		ID:              entry.ID,
		OriginalID:      d.attrs[fieldOriginalID],
		Data:            d.data,
		Attributes:      d.attrs,
		DeliveryAttempt: d.attempt,
		Reason:          d.attrs[queue.AttrReason],
	}
	if t, err := time.Parse(time.RFC3339Nano, d.attrs[fieldDeadLetteredAt]); err == nil {
		dl.DeadLetteredAt = t
	}
	return dl
}
