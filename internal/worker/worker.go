package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/phrazzld/vidgen/internal/generation"
	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/phrazzld/vidgen/internal/store"
)

// Deps are the collaborators of a worker.
type Deps struct {
	Queue    queue.Client
	Requests store.RequestStore
	Cache    store.CacheIndex
	Pipeline generation.Pipeline
}

// Worker runs executions against its dependencies.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates a worker. If logger is nil, the default logger is used.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Worker, error) {
	if deps.Queue == nil || deps.Requests == nil || deps.Cache == nil || deps.Pipeline == nil {
		return nil, errors.New("worker: queue, request store, cache index and pipeline are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "worker-" + uuid.NewString()[:8]
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		deps: deps,
		cfg:  cfg,
		logger: logger.With(
			slog.String("component", "worker"),
			slog.String("consumer", cfg.ConsumerName),
		),
	}, nil
}

// execution holds the state of one Run.
type execution struct {
	stats       Stats
	started     time.Time
	deadline    time.Time
	lastMessage time.Time
	// seen holds request ids that reached a final outcome in this execution.
	seen *lru.Cache[uuid.UUID, Outcome]
}

func (e *execution) idleDeadline(idle time.Duration) time.Time {
	return e.lastMessage.Add(idle)
}

// Run performs one execution and returns its statistics. It returns an error
// only when ctx is canceled; timeouts are a normal exit.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	seen, err := lru.New[uuid.UUID, Outcome](w.cfg.DedupSize)
	if err != nil {
		return Stats{}, fmt.Errorf("worker: dedup cache: %w", err)
	}

	now := time.Now()
	exec := &execution{
		started:     now,
		deadline:    now.Add(w.cfg.MaxRuntime),
		lastMessage: now,
		seen:        seen,
	}

	// Pipeline calls are bounded by the runtime budget; store and queue
	// updates use ctx so an outcome can still be recorded after it expires.
	runCtx, cancel := context.WithDeadline(ctx, exec.deadline)
	defer cancel()

	w.logger.Info("worker execution started",
		slog.Duration("max_runtime", w.cfg.MaxRuntime),
		slog.Duration("idle_timeout", w.cfg.IdleTimeout),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Duration("lease_duration", w.cfg.LeaseDuration))

	exit := w.loop(ctx, runCtx, exec)

	exec.stats.Elapsed = time.Since(exec.started)
	exec.stats.Exit = exit
	executionsTotal.WithLabelValues(string(exit)).Inc()
	w.logger.Info("worker execution finished", slog.Any("stats", exec.stats))

	if exit == ExitCanceled {
		return exec.stats, ctx.Err()
	}
	return exec.stats, nil
}

func (w *Worker) loop(ctx, runCtx context.Context, exec *execution) ExitReason {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return ExitCanceled
		}
		now := time.Now()
		if !now.Before(exec.deadline) {
			return ExitMaxRuntime
		}
		idleAt := exec.idleDeadline(w.cfg.IdleTimeout)
		if !now.Before(idleAt) {
			return ExitIdle
		}

		wait := min(w.cfg.PullTimeout, exec.deadline.Sub(now), idleAt.Sub(now))
		msgs, err := w.deps.Queue.Pull(runCtx, w.cfg.BatchSize, wait)
		if err != nil {
			if ctx.Err() != nil {
				return ExitCanceled
			}
			if runCtx.Err() != nil {
				return ExitMaxRuntime
			}
			w.logger.Warn("pull failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
			sleep(runCtx, min(backoff, time.Until(idleAt)))
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 100 * time.Millisecond

		if len(msgs) == 0 {
			continue
		}
		exec.stats.Pulled += len(msgs)
		exec.lastMessage = time.Now()

		for i, msg := range msgs {
			if !time.Now().Before(exec.deadline) || ctx.Err() != nil {
				w.release(ctx, exec, msgs[i:])
				break
			}
			outcome := w.handle(ctx, runCtx, exec, msg)
			exec.stats.record(outcome)
			messagesTotal.WithLabelValues(string(outcome)).Inc()
			// Idle time is measured from the end of the last handled message,
			// so a long pipeline call does not count as waiting for work.
			exec.lastMessage = time.Now()
		}
	}
}

// release hands unstarted messages back to the queue for another execution.
func (w *Worker) release(ctx context.Context, exec *execution, msgs []*queue.Message) {
	for _, msg := range msgs {
		if err := w.deps.Queue.Nack(context.WithoutCancel(ctx), msg); err != nil {
			w.logger.Warn("failed to release message",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()))
		}
		exec.stats.record(OutcomeReleased)
		messagesTotal.WithLabelValues(string(OutcomeReleased)).Inc()
	}
	w.logger.Info("released unstarted messages", slog.Int("count", len(msgs)))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
