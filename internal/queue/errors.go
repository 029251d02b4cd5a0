package queue

import "errors"

var (
	// ErrMalformedMessage is returned when a message payload cannot be decoded
	// or fails schema validation. Such messages are never retried.
	ErrMalformedMessage = errors.New("malformed queue message")

	// ErrMessageNotFound is returned when acking, nacking or replaying a message
	// the queue no longer holds, for example after its deadline already expired.
	ErrMessageNotFound = errors.New("queue message not found")

	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue closed")
)
