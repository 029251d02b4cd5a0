package generation

import (
	"context"

	"github.com/phrazzld/vidgen/internal/domain"
)

// Request is the input handed to the pipeline for one generation.
type Request struct {
	RequestID           string `json:"request_id"`
	StudentID           string `json:"student_id"`
	Query               string `json:"query"`
	GradeLevel          int    `json:"grade_level"`
	PersonalizationHint string `json:"personalization_hint,omitempty"`
}

// Result is what a successful generation produces. SelectedValue is the
// personalization value the pipeline chose; it becomes part of the cache key
// and may be empty when nothing was personalized.
type Result struct {
	domain.Results
	SelectedValue string `json:"selected_personalization_value"`
}

// Pipeline is the external generation pipeline.
//
// Generate blocks for the duration of the generation, which may be minutes.
// Failures should be returned as *Error so the caller can tell transient from
// permanent ones; anything else is treated as transient.
type Pipeline interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// PipelineFunc adapts a function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, req Request) (*Result, error)

// Generate calls f.
func (f PipelineFunc) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
