package worker

import (
	"log/slog"
	"time"
)

// Outcome is what happened to one message.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCacheHit  Outcome = "cache_hit"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	OutcomeDropped   Outcome = "dropped"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeReleased  Outcome = "released"
)

// ExitReason says why an execution stopped.
type ExitReason string

const (
	ExitMaxRuntime ExitReason = "max_runtime"
	ExitIdle       ExitReason = "idle"
	ExitCanceled   ExitReason = "canceled"
)

// Stats summarizes one execution.
type Stats struct {
	Pulled    int
	Processed int
	Succeeded int
	CacheHits int
	Retried   int
	Failed    int
	Dropped   int
	Skipped   int
	Deferred  int
	Released  int
	Elapsed   time.Duration
	Exit      ExitReason
}

func (s *Stats) record(o Outcome) {
	switch o {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeCacheHit:
		s.CacheHits++
	case OutcomeRetried:
		s.Retried++
	case OutcomeFailed:
		s.Failed++
	case OutcomeDropped:
		s.Dropped++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeDeferred:
		s.Deferred++
	case OutcomeReleased:
		s.Released++
		return
	}
	s.Processed++
}

// LogValue implements slog.LogValuer.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pulled", s.Pulled),
		slog.Int("processed", s.Processed),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("cache_hits", s.CacheHits),
		slog.Int("retried", s.Retried),
		slog.Int("failed", s.Failed),
		slog.Int("dropped", s.Dropped),
		slog.Int("skipped", s.Skipped),
		slog.Int("deferred", s.Deferred),
		slog.Int("released", s.Released),
		slog.Duration("elapsed", s.Elapsed),
		slog.String("exit", string(s.Exit)),
	)
}
