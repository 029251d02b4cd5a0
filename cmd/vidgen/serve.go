package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/vidgen/internal/api"
	"github.com/phrazzld/vidgen/internal/config"
	"github.com/phrazzld/vidgen/internal/generation"
	"github.com/phrazzld/vidgen/internal/platform/pipeline"
	"github.com/phrazzld/vidgen/internal/service"
	"github.com/phrazzld/vidgen/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for submitting jobs and administering dead letters",
		Long: `Serves POST /v1/requests, GET /v1/requests/{id}, the dead-letter admin
routes, /healthz and /metrics.

With --dev the store and queue are in memory and a worker runs inside the
server process, so the whole flow works without Postgres or Redis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			return runServe(cmd.Context(), a, dev)
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "use in-memory backends and run a worker in-process")
	cmd.Flags().Int("port", 0, "override server.port")
	bindFlag(cmd.Flags(), "port", "server.port")
	bindPreset(cmd.Flags(), "dev",
		"database.store="+config.StoreMemory,
		"redis.backend="+config.QueueMemory)
	return cmd
}

func runServe(ctx context.Context, a *app, dev bool) error {
	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	q, queueHealth, err := a.openQueue(ctx)
	if err != nil {
		return err
	}

	requests, err := service.NewRequestService(st.requests, q, a.logger)
	if err != nil {
		return err
	}
	deadLetters, err := service.NewDeadLetterService(q, a.logger)
	if err != nil {
		return err
	}

	health := map[string]api.HealthCheck{}
	if st.health != nil {
		health["store"] = st.health
	}
	if queueHealth != nil {
		health["queue"] = queueHealth
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: api.NewRouter(api.RouterConfig{
			Requests:    requests,
			DeadLetters: deadLetters,
			Health:      health,
			Logger:      a.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting server", slog.Int("port", a.cfg.Server.Port), slog.Bool("dev", dev))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if dev {
		pipe, err := a.devPipeline()
		if err != nil {
			return err
		}
		w, err := worker.New(worker.Deps{
			Queue:    q,
			Requests: st.requests,
			Cache:    st.cache,
			Pipeline: pipe,
		}, worker.FromConfig(a.cfg.Worker, a.cfg.Queue), a.logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			// Executions end on idle; start the next one straight away.
			for gctx.Err() == nil {
				if _, err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	a.logger.Info("server stopped")
	return err
}

func (a *app) devPipeline() (generation.Pipeline, error) {
	if a.cfg.Pipeline.URL != "" {
		return pipeline.NewClient(a.cfg.Pipeline.URL, a.cfg.Pipeline.Timeout, a.logger)
	}
	a.logger.Warn("no pipeline URL configured; using placeholder pipeline")
	return devPipeline(2 * time.Second), nil
}
