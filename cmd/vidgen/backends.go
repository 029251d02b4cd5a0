package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/vidgen/internal/api"
	"github.com/phrazzld/vidgen/internal/config"
	"github.com/phrazzld/vidgen/internal/platform/memory"
	"github.com/phrazzld/vidgen/internal/platform/postgres"
	"github.com/phrazzld/vidgen/internal/platform/redisq"
	"github.com/phrazzld/vidgen/internal/queue"
	"github.com/phrazzld/vidgen/internal/store"
)

// errSharedBackends is returned by commands that only make sense when several
// processes share the store and the queue.
var errSharedBackends = errors.New(
	"this command needs the postgres store and the redis queue; use serve --dev for a single-process setup")

type stores struct {
	requests store.RequestStore
	cache    store.CacheIndex
	health   api.HealthCheck
}

// jobQueue is implemented by both queue backends.
type jobQueue interface {
	queue.Publisher
	queue.Client
	queue.DeadLetterQueue
}

func (a *app) sharedBackends() bool {
	return a.cfg.Database.Store == config.StorePostgres && a.cfg.Redis.Backend == config.QueueRedis
}

func (a *app) openStores(ctx context.Context) (*stores, error) {
	if a.cfg.Database.Store == config.StoreMemory {
		a.logger.Warn("using in-memory request store; state is lost on exit")
		return &stores{
			requests: memory.NewRequestStore(a.logger),
			cache:    memory.NewCacheIndex(),
		}, nil
	}

	db, err := postgres.Open(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.logger.Info("database connection established")

	return &stores{
		requests: postgres.NewPostgresRequestStore(db, a.logger),
		cache:    postgres.NewPostgresCacheIndex(db, a.logger),
		health:   db.PingContext,
	}, nil
}

func (a *app) openQueue(ctx context.Context) (jobQueue, api.HealthCheck, error) {
	qc := a.cfg.Queue
	if a.cfg.Redis.Backend == config.QueueMemory {
		a.logger.Warn("using in-memory queue; messages are lost on exit")
		mq := queue.NewMemoryQueue(queue.MemoryOptions{
			AckDeadline:         qc.AckDeadline,
			MaxDeliveryAttempts: qc.MaxDeliveryAttempts,
			Logger:              a.logger,
		})
		a.closers = append(a.closers, mq.Close)
		return mq, nil, nil
	}

	rdb, err := redisq.Connect(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, rdb.Close)

	client, err := redisq.New(ctx, rdb, redisq.Options{
		Stream:              qc.Stream,
		Group:               qc.Group,
		Consumer:            a.cfg.Worker.ConsumerName,
		DeadLetterStream:    qc.DeadLetterStream,
		AckDeadline:         qc.AckDeadline,
		MaxDeliveryAttempts: qc.MaxDeliveryAttempts,
		Logger:              a.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up queue: %w", err)
	}
	a.closers = append(a.closers, func() error {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Leave(leaveCtx)
	})
	a.logger.Info("queue connection established",
		slog.String("stream", qc.Stream),
		slog.String("group", qc.Group))

	return client, func(ctx context.Context) error { return rdb.Ping(ctx).Err() }, nil
}
