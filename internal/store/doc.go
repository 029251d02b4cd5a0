// Package store defines the persistence ports used by the worker and the
// services: the RequestStore that tracks each generation request's lifecycle
// and the CacheIndex that maps cache keys to previously generated content.
// Implementations live under internal/platform.
package store
