package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/phrazzld/vidgen/internal/ciutil"
)

// ciEnvVars are copied into every record when present, so worker runs in CI or
// in a scheduled job can be traced back to the pipeline that started them.
var ciEnvVars = [][2]string{
	{"GITHUB_RUN_ID", "ci_run_id"},
	{"GITHUB_SHA", "ci_commit"},
	{"GITHUB_REF_NAME", "ci_ref"},
	{"GITHUB_WORKFLOW", "ci_workflow"},
	{"CI_JOB_ID", "ci_job_id"},
	{"CI_COMMIT_SHA", "ci_commit"},
	{"CI_PIPELINE_ID", "ci_pipeline_id"},
	{"CLOUD_RUN_JOB", "job_name"},
	{"CLOUD_RUN_EXECUTION", "job_execution"},
}

// CIHandler is a slog.Handler that adds CI environment metadata to log records.
type CIHandler struct {
	handler  slog.Handler
	metadata []slog.Attr
}

// NewCIHandler wraps a JSON handler writing to out.
func NewCIHandler(out io.Writer, opts *slog.HandlerOptions) *CIHandler {
	var handlerOpts slog.HandlerOptions
	if opts != nil {
		handlerOpts = *opts
	}

	return &CIHandler{
		handler:  slog.NewJSONHandler(out, &handlerOpts),
		metadata: getCIMetadata(),
	}
}

// Enabled implements the slog.Handler interface.
func (h *CIHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs implements the slog.Handler interface.
func (h *CIHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CIHandler{handler: h.handler.WithAttrs(attrs), metadata: h.metadata}
}

// WithGroup implements the slog.Handler interface.
func (h *CIHandler) WithGroup(name string) slog.Handler {
	return &CIHandler{handler: h.handler.WithGroup(name), metadata: h.metadata}
}

// Handle implements the slog.Handler interface.
func (h *CIHandler) Handle(ctx context.Context, record slog.Record) error {
	enhanced := record.Clone()
	enhanced.AddAttrs(h.metadata...)
	return h.handler.Handle(ctx, enhanced)
}

func getCIMetadata() []slog.Attr {
	seen := make(map[string]bool)
	var attrs []slog.Attr
	for _, pair := range ciEnvVars {
		env, key := pair[0], pair[1]
		v := os.Getenv(env)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		attrs = append(attrs, slog.String(key, v))
	}
	return attrs
}

func isInCIEnvironment() bool {
	return ciutil.IsCI()
}
