// Package domain contains the core entities of video generation: the
// GenerationRequest lifecycle state machine and the content cache entries that
// let equivalent requests reuse earlier results. It has no knowledge of storage,
// queues or transport.
package domain
