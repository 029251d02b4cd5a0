package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/vidgen/internal/platform/pipeline"
	"github.com/phrazzld/vidgen/internal/worker"
	"github.com/spf13/cobra"
)

func newWorkerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one worker execution against the job queue",
		Long: `Pulls generation jobs in batches and drives each through the pipeline
until the max runtime or the idle timeout expires, then logs statistics and
exits. Run it from a scheduler; several executions may compete on one queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			return runWorker(cmd.Context(), a)
		},
	}

	cmd.Flags().Duration("max-runtime", 0, "override worker.max_runtime")
	cmd.Flags().Duration("idle-timeout", 0, "override worker.idle_timeout")
	cmd.Flags().Int("batch-size", 0, "override worker.batch_size")
	cmd.Flags().String("consumer", "", "override worker.consumer_name")
	bindFlag(cmd.Flags(), "max-runtime", "worker.max_runtime")
	bindFlag(cmd.Flags(), "idle-timeout", "worker.idle_timeout")
	bindFlag(cmd.Flags(), "batch-size", "worker.batch_size")
	bindFlag(cmd.Flags(), "consumer", "worker.consumer_name")
	return cmd
}

func runWorker(ctx context.Context, a *app) error {
	if !a.sharedBackends() {
		return errSharedBackends
	}
	if a.cfg.Worker.ConsumerName == "" {
		a.cfg.Worker.ConsumerName = "vidgen-" + uuid.NewString()[:8]
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	q, _, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	pipe, err := pipeline.NewClient(a.cfg.Pipeline.URL, a.cfg.Pipeline.Timeout, a.logger)
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

	stats, runErr := w.Run(ctx)
	a.pushMetrics(ctx)
	if runErr != nil {
		return fmt.Errorf("worker execution interrupted after %s: %w", stats.Elapsed.Round(time.Millisecond), runErr)
	}
	return nil
}

// pushMetrics sends the execution's metrics to the Pushgateway when one is
// configured. Failures are logged only.
func (a *app) pushMetrics(ctx context.Context) {
	url := a.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := worker.PushMetrics(pushCtx, url, a.cfg.Metrics.JobName, a.cfg.Worker.ConsumerName); err != nil {
		a.logger.Warn("failed to push metrics", slog.String("error", err.Error()))
	}
}
