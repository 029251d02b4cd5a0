package worker

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidgen_worker_messages_total",
			Help: "Messages handled by the worker, by outcome.",
		},
		[]string{"outcome"},
	)

	pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidgen_worker_pipeline_duration_seconds",
			Help:    "Duration of pipeline calls.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
		},
		[]string{"result"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidgen_worker_cache_lookups_total",
			Help: "Content cache lookups, by result.",
		},
		[]string{"result"},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidgen_worker_executions_total",
			Help: "Worker executions, by exit reason.",
		},
		[]string{"exit"},
	)
)

// PushMetrics pushes the default registry to a Prometheus Pushgateway. Short
// worker executions end before any scrape would see them.
func PushMetrics(ctx context.Context, url, job, instance string) error {
	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
