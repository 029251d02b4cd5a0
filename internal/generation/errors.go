package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors returned by pipeline implementations
var (
	// ErrGenerationFailed is returned when generation fails for a reason that
	// retrying will not fix.
	ErrGenerationFailed = errors.New("video generation failed")

	// ErrInvalidResponse is returned when the pipeline response cannot be parsed
	// or is missing required fields.
	ErrInvalidResponse = errors.New("invalid response from generation pipeline")

	// ErrInvalidInput is returned when the pipeline rejects the request itself.
	ErrInvalidInput = errors.New("generation input rejected")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during video generation")

	// ErrInvalidConfig is returned when the pipeline client configuration is invalid
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)

// Kind classifies a pipeline failure for retry routing.
type Kind string

const (
	// KindTransient covers rate limits, timeouts, network and storage hiccups.
	KindTransient Kind = "transient"
	// KindPermanent covers failures that will repeat on every attempt.
	KindPermanent Kind = "permanent"
)

// DefaultStage is reported when the pipeline does not name the failing stage.
const DefaultStage = "pipeline"

// Error is a classified pipeline failure.
type Error struct {
	Kind   Kind
	Stage  string
	Detail map[string]any
	Err    error
}

// NewTransientError wraps err as a retryable failure at stage.
func NewTransientError(stage string, err error) *Error {
	return &Error{Kind: KindTransient, Stage: stage, Err: err}
}

// NewPermanentError wraps err as a non-retryable failure at stage.
func NewPermanentError(stage string, err error) *Error {
	return &Error{Kind: KindPermanent, Stage: stage, Err: err}
}

// WithDetail returns e with an extra structured detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

func (e *Error) Error() string {
	stage := e.Stage
	if stage == "" {
		stage = DefaultStage
	}
	if e.Err == nil {
		return fmt.Sprintf("%s failure at %s", e.Kind, stage)
	}
	return fmt.Sprintf("%s failure at %s: %v", e.Kind, stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransientFailure) match any transient Error.
func (e *Error) Is(target error) bool {
	return target == ErrTransientFailure && e.Kind == KindTransient
}

// IsRetryable reports whether a failed attempt should be handed back to the
// queue for redelivery. Unclassified errors are retried; the queue's delivery
// limit bounds them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Kind != KindPermanent
	}

	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrGenerationFailed),
		errors.Is(err, ErrInvalidConfig):
		return false
	}
	return true
}

// StageOf returns the stage named by a classified error, or DefaultStage.
func StageOf(err error) string {
	var genErr *Error
	if errors.As(err, &genErr) && genErr.Stage != "" {
		return genErr.Stage
	}
	return DefaultStage
}

// DetailOf renders the structured detail of err as JSON, always including the
// kind and the underlying message.
func DetailOf(err error) json.RawMessage {
	detail := map[string]any{}
	var genErr *Error
	if errors.As(err, &genErr) {
		for k, v := range genErr.Detail {
			detail[k] = v
		}
		detail["kind"] = string(genErr.Kind)
	} else if IsRetryable(err) {
		detail["kind"] = string(KindTransient)
	} else {
		detail["kind"] = string(KindPermanent)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		detail["timeout"] = true
	}

	raw, mErr := json.Marshal(detail)
	if mErr != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
