// Package queue defines the work message schema and the ports the producer,
// the worker and the dead-letter administration use to talk to an
// at-least-once queue. Delivery is unordered; a message is redelivered when it
// is nacked or its ack deadline passes, and dead-lettered after the configured
// number of delivery attempts.
//
// MemoryQueue implements every port in process. The Redis Streams
// implementation lives in internal/platform/redisq.
package queue
