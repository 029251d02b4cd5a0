package middleware

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/phrazzld/vidgen/internal/api/shared"
	"github.com/phrazzld/vidgen/internal/platform/logger"
)

// Header names for request tracing.
const (
	TraceIDHeader       = "X-Trace-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)

var validCorrelationID = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// NewTraceMiddleware adds a trace ID and a request-scoped logger to the
// request context. A well-formed X-Correlation-ID header is carried into the
// context so it reaches the logs and the submitted job.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)
			if cid := r.Header.Get(CorrelationIDHeader); validCorrelationID.MatchString(cid) {
				ctx = logger.WithCorrelationID(ctx, cid)
			}

			w.Header().Set(TraceIDHeader, traceID)
			logger.FromContext(ctx).Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
