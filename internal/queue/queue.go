package queue

import (
	"context"
	"time"
)

// Publisher enqueues work. It returns the queue-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Client is the consumer side of the queue.
type Client interface {
	// Pull returns up to max messages, waiting up to timeout for at least one.
	// An empty result with a nil error means the queue had nothing to deliver.
	Pull(ctx context.Context, max int, timeout time.Duration) ([]*Message, error)

	// Ack removes the message permanently.
	Ack(ctx context.Context, msg *Message) error

	// Nack makes the message eligible for redelivery immediately.
	Nack(ctx context.Context, msg *Message) error
}

// DeadLetter is a message that exhausted its delivery attempts.
type DeadLetter struct {
	ID              string            `json:"id"`
	OriginalID      string            `json:"original_id"`
	Data            []byte            `json:"data"`
	Attributes      map[string]string `json:"attributes"`
	DeliveryAttempt int               `json:"delivery_attempt"`
	Reason          string            `json:"reason"`
	DeadLetteredAt  time.Time         `json:"dead_lettered_at"`
}

// DeadLetterQueue inspects and replays dead-lettered messages.
type DeadLetterQueue interface {
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	// Replay publishes the dead letter back onto the work queue with a fresh
	// attempt count and removes it. Returns the new message id.
	Replay(ctx context.Context, id string) (string, error)
}
