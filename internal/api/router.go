package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/vidgen/internal/api/middleware"
	"github.com/phrazzld/vidgen/internal/api/shared"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/redact"
	"github.com/phrazzld/vidgen/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds the dependencies of the HTTP surface.
type RouterConfig struct {
	Requests service.RequestService
	// DeadLetters enables the admin routes when set.
	DeadLetters service.DeadLetterService
	// Health checks run on GET /healthz, keyed by dependency name.
	Health map[string]HealthCheck
	// Metrics serves GET /metrics. Defaults to the Prometheus default registry.
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(cfg.Logger))

	requests := NewRequestHandler(cfg.Requests, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", requests.Submit)
		r.Get("/requests/{id}", requests.GetStatus)

		if cfg.DeadLetters != nil {
			deadLetters := NewDeadLetterHandler(cfg.DeadLetters, cfg.Logger)
			r.Route("/admin/dead-letters", func(r chi.Router) {
				r.Get("/", deadLetters.List)
				r.Post("/{id}/replay", deadLetters.Replay)
			})
		}
	})

	r.Get("/healthz", healthHandler(cfg.Health))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics)

	return r
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				logger.FromContext(r.Context()).Error("health check failed",
					slog.String("check", name),
					slog.String("error", redact.Error(err)))
				continue
			}
			resp.Checks[name] = "ok"
		}
		shared.RespondWithJSON(w, r, status, resp)
	}
}
