package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/vidgen/internal/domain"
	"github.com/phrazzld/vidgen/internal/queue"
)

// SubmitRequest is the body of POST /v1/requests.
type SubmitRequest struct {
	CorrelationID       string `json:"correlation_id,omitempty"       validate:"omitempty,max=128"`
	StudentID           string `json:"student_id"                     validate:"required,max=128"`
	Query               string `json:"query"                          validate:"required,max=2000"`
	GradeLevel          *int   `json:"grade_level"                    validate:"required,gte=0,lte=12"`
	PersonalizationHint string `json:"personalization_hint,omitempty" validate:"max=500"`
	TopicID             string `json:"topic_id,omitempty"             validate:"omitempty,max=200"`
}

// ResultsResponse carries the artifacts of a completed request.
type ResultsResponse struct {
	ArtifactRef  string `json:"artifact_ref"`
	ScriptText   string `json:"script_text"`
	ThumbnailRef string `json:"thumbnail_ref"`
}

// ErrorDetailResponse describes the most recent failure of a request.
type ErrorDetailResponse struct {
	Message string          `json:"message"`
	Stage   string          `json:"stage"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// RequestResponse is the status view of a generation request.
type RequestResponse struct {
	ID                  string               `json:"id"`
	CorrelationID       string               `json:"correlation_id"`
	StudentID           string               `json:"student_id"`
	Query               string               `json:"query"`
	GradeLevel          int                  `json:"grade_level"`
	PersonalizationHint string               `json:"personalization_hint,omitempty"`
	Status              string               `json:"status"`
	Progress            int                  `json:"progress_percentage"`
	Stage               string               `json:"stage"`
	Results             *ResultsResponse     `json:"results,omitempty"`
	Error               *ErrorDetailResponse `json:"error,omitempty"`
	RetryCount          int                  `json:"retry_count"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
	StartedAt           *time.Time           `json:"started_at,omitempty"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
	FailedAt            *time.Time           `json:"failed_at,omitempty"`
}

// DeadLetterResponse is one dead-lettered job.
type DeadLetterResponse struct {
	ID              string            `json:"id"`
	OriginalID      string            `json:"original_id,omitempty"`
	RequestID       string            `json:"request_id,omitempty"`
	Payload         json.RawMessage   `json:"payload"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	DeliveryAttempt int               `json:"delivery_attempt"`
	Reason          string            `json:"reason"`
	DeadLetteredAt  time.Time         `json:"dead_lettered_at"`
}

// DeadLetterListResponse wraps GET /v1/admin/dead-letters.
type DeadLetterListResponse struct {
	DeadLetters []DeadLetterResponse `json:"dead_letters"`
	Count       int                  `json:"count"`
}

// ReplayResponse is returned by a successful replay.
type ReplayResponse struct {
	DeadLetterID string `json:"dead_letter_id"`
	MessageID    string `json:"message_id"`
}

func requestToResponse(r *domain.GenerationRequest) RequestResponse {
	resp := RequestResponse{
		ID:                  r.ID.String(),
		CorrelationID:       r.CorrelationID,
		StudentID:           r.StudentID,
		Query:               r.Query,
		GradeLevel:          r.GradeLevel,
		PersonalizationHint: r.PersonalizationHint,
		Status:              string(r.Status),
		Progress:            r.Progress,
		Stage:               r.Stage,
		RetryCount:          r.RetryCount,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		StartedAt:           r.StartedAt,
		CompletedAt:         r.CompletedAt,
		FailedAt:            r.FailedAt,
	}
	if r.Results != nil {
		resp.Results = &ResultsResponse{
			ArtifactRef:  r.Results.ArtifactRef,
			ScriptText:   r.Results.ScriptText,
			ThumbnailRef: r.Results.ThumbnailRef,
		}
	}
	if r.LastError != nil {
		resp.Error = &ErrorDetailResponse{
			Message: r.LastError.Message,
			Stage:   r.LastError.Stage,
			Detail:  r.LastError.Detail,
		}
	}
	return resp
}

// NewDeadLetterResponse converts a dead letter to its JSON view.
func NewDeadLetterResponse(d queue.DeadLetter) DeadLetterResponse {
	payload := json.RawMessage(d.Data)
	if !json.Valid(d.Data) {
		// Malformed payloads are shown as a JSON string.
		payload, _ = json.Marshal(string(d.Data))
	}
	return DeadLetterResponse{
		ID:              d.ID,
		OriginalID:      d.OriginalID,
		RequestID:       d.Attributes[queue.AttrRequestID],
		Payload:         payload,
		Attributes:      d.Attributes,
		DeliveryAttempt: d.DeliveryAttempt,
		Reason:          d.Reason,
		DeadLetteredAt:  d.DeadLetteredAt,
	}
}
