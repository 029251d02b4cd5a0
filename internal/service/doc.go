// Package service contains the producer-side use cases of vidgen.
//
// RequestService accepts a generation request, records it in the Request
// Store and publishes the job message; it also answers status queries.
// DeadLetterService lets operators inspect and replay messages that exhausted
// their delivery attempts.
//
// Services depend on the store and queue ports only, never on a specific
// backend, so the same code runs against Postgres and Redis in production and
// the in-memory implementations in development and tests.
package service
