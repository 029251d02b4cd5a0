// Package redisq implements the queue ports on Redis Streams.
//
// Work messages live in one stream read through a consumer group. A delivery
// that is neither acked nor nacked stays in the group's pending list and is
// reclaimed with XAUTOCLAIM once it has been idle for the ack deadline. Acked
// entries are deleted. A nack retires the entry and appends a copy with the
// attempt counter bumped, so it is immediately visible to XREADGROUP again.
// Entries that exceed the delivery limit move to a separate dead-letter
// stream, from which they can be listed and replayed.
package redisq
