package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestStatus represents the lifecycle state of a generation request
type RequestStatus string

// Possible request status values, in lifecycle order
const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusValidating RequestStatus = "validating"
	RequestStatusGenerating RequestStatus = "generating"
	RequestStatusUploading  RequestStatus = "uploading"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

// Progress markers written by the worker at each stage
const (
	ProgressPending    = 0
	ProgressValidating = 5
	ProgressGenerating = 10
	ProgressUploading  = 90
	ProgressCompleted  = 100
)

// rank orders the forward lifecycle. Failed has no rank; it is reachable from any
// non-terminal status.
var rank = map[RequestStatus]int{
	RequestStatusPending:    0,
	RequestStatusValidating: 1,
	RequestStatusGenerating: 2,
	RequestStatusUploading:  3,
	RequestStatusCompleted:  4,
}

// IsValid reports whether s is a known status.
func (s RequestStatus) IsValid() bool {
	if s == RequestStatusFailed {
		return true
	}
	_, ok := rank[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible from s.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// Before reports whether s comes strictly earlier than other in the forward lifecycle.
// Failed is never before or after anything.
func (s RequestStatus) Before(other RequestStatus) bool {
	a, okA := rank[s]
	b, okB := rank[other]
	return okA && okB && a < b
}

// Results holds the artifacts of a completed generation.
type Results struct {
	ArtifactRef  string `json:"artifact_ref"`
	ScriptText   string `json:"script_text"`
	ThumbnailRef string `json:"thumbnail_ref"`
}

// ErrorInfo describes the most recent failure recorded against a request.
type ErrorInfo struct {
	Message string          `json:"message"`
	Stage   string          `json:"stage"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// GenerationRequest is the durable record of one video generation job.
type GenerationRequest struct {
	ID                  uuid.UUID     `json:"id"`
	CorrelationID       string        `json:"correlation_id"`
	StudentID           string        `json:"student_id"`
	Query               string        `json:"query"`
	GradeLevel          int           `json:"grade_level"`
	PersonalizationHint string        `json:"personalization_hint,omitempty"`
	Status              RequestStatus `json:"status"`
	Progress            int           `json:"progress_percentage"`
	Stage               string        `json:"stage"`

	// Results are set only when Status is completed.
	Results *Results `json:"results,omitempty"`

	// LastError is cleared on completion. It may be present on a non-terminal
	// request that is waiting for a retry.
	LastError  *ErrorInfo `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`

	LeaseOwner     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// NewGenerationRequest creates a pending request with a fresh ID.
// Returns an error if validation fails.
func NewGenerationRequest(
	studentID, query string,
	gradeLevel int,
	correlationID, personalizationHint string,
) (*GenerationRequest, error) {
	now := time.Now().UTC()
	req := &GenerationRequest{
		ID:                  uuid.New(),
		CorrelationID:       correlationID,
		StudentID:           studentID,
		Query:               query,
		GradeLevel:          gradeLevel,
		PersonalizationHint: personalizationHint,
		Status:              RequestStatusPending,
		Progress:            ProgressPending,
		Stage:               "queued",
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}

// Validate checks the request's inputs and its status/progress/results invariants.
func (r *GenerationRequest) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: request ID cannot be empty", ErrInvalidID)
	}
	if strings.TrimSpace(r.CorrelationID) == "" {
		return fmt.Errorf("%w: correlation ID cannot be empty", ErrValidation)
	}
	if strings.TrimSpace(r.StudentID) == "" {
		return fmt.Errorf("%w: student ID cannot be empty", ErrValidation)
	}
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrValidation)
	}
	if r.GradeLevel < 0 || r.GradeLevel > 12 {
		return fmt.Errorf("%w: grade level %d out of range", ErrValidation, r.GradeLevel)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	if (r.Progress == ProgressCompleted) != (r.Status == RequestStatusCompleted) {
		return fmt.Errorf("%w: progress %d with status %s", ErrInvalidProgress, r.Progress, r.Status)
	}
	if r.Status == RequestStatusCompleted && (r.Results == nil || r.LastError != nil) {
		return fmt.Errorf("%w: completed request must carry results and no error", ErrValidation)
	}
	if r.Status != RequestStatusCompleted && r.Results != nil {
		return fmt.Errorf("%w: results present on %s request", ErrValidation, r.Status)
	}
	return nil
}

// Transition moves the request to status with the given progress and stage label.
//
// Re-entering the current status is allowed as a progress update. Completed and
// failed are never produced here: use SetResults or CompleteFromCache so results
// are always present, and SetError so every failure carries its error info.
func (r *GenerationRequest) Transition(status RequestStatus, progress int, stage string, now time.Time) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Status)
	}

	switch status {
	case RequestStatusCompleted:
		return fmt.Errorf("%w: completion requires results", ErrInvalidTransition)
	case RequestStatusFailed:
		return fmt.Errorf("%w: failure requires error info", ErrInvalidTransition)
	default:
		if status.Before(r.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, status)
		}
	}

	if progress < 0 || progress >= ProgressCompleted {
		return fmt.Errorf("%w: %d is not allowed for %s", ErrInvalidProgress, progress, status)
	}
	if progress < r.Progress {
		return fmt.Errorf("%w: %d -> %d", ErrInvalidProgress, r.Progress, progress)
	}

	r.Status = status
	r.Progress = progress
	r.Stage = stage
	r.UpdatedAt = now
	if status != RequestStatusPending {
		setOnce(&r.StartedAt, now)
	}
	return nil
}

// SetResults stores the generated artifacts and completes the request.
// Only valid while generating or uploading.
func (r *GenerationRequest) SetResults(results Results, now time.Time) error {
	if r.Status != RequestStatusGenerating && r.Status != RequestStatusUploading {
		return fmt.Errorf("%w: cannot set results while %s", ErrInvalidTransition, r.Status)
	}
	return r.complete(results, "completed", now)
}

// CompleteFromCache completes the request with previously generated artifacts.
// Valid from any non-terminal status.
func (r *GenerationRequest) CompleteFromCache(results Results, now time.Time) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Status)
	}
	return r.complete(results, "served from cache", now)
}

func (r *GenerationRequest) complete(results Results, stage string, now time.Time) error {
	if strings.TrimSpace(results.ArtifactRef) == "" {
		return ErrMissingResults
	}

	res := results
	r.Results = &res
	r.LastError = nil
	r.Status = RequestStatusCompleted
	r.Progress = ProgressCompleted
	r.Stage = stage
	r.UpdatedAt = now
	setOnce(&r.StartedAt, now)
	setOnce(&r.CompletedAt, now)
	r.clearLease()
	return nil
}

// SetError records a permanent failure. Valid from any non-terminal status.
func (r *GenerationRequest) SetError(info ErrorInfo, now time.Time) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Status)
	}

	e := info
	r.LastError = &e
	r.RetryCount++
	r.Status = RequestStatusFailed
	r.Stage = "failed at " + info.Stage
	r.UpdatedAt = now
	setOnce(&r.FailedAt, now)
	r.clearLease()
	return nil
}

// RecordAttemptError records a retryable failure without changing the status.
func (r *GenerationRequest) RecordAttemptError(info ErrorInfo, now time.Time) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Status)
	}

	e := info
	r.LastError = &e
	r.RetryCount++
	r.Stage = "retrying after " + info.Stage + " error"
	r.UpdatedAt = now
	r.clearLease()
	return nil
}

// Claim takes the processing lease for owner until now+ttl.
// It succeeds when no lease exists, the existing one has expired, or owner already holds it.
func (r *GenerationRequest) Claim(owner string, ttl time.Duration, now time.Time) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Status)
	}
	if r.LeaseOwner != "" && r.LeaseOwner != owner &&
		r.LeaseExpiresAt != nil && now.Before(*r.LeaseExpiresAt) {
		return fmt.Errorf("%w: owner %s until %s", ErrLeaseHeld, r.LeaseOwner,
			r.LeaseExpiresAt.Format(time.RFC3339))
	}

	expires := now.Add(ttl)
	r.LeaseOwner = owner
	r.LeaseExpiresAt = &expires
	return nil
}

// ReleaseLease drops the lease if owner holds it.
func (r *GenerationRequest) ReleaseLease(owner string) {
	if r.LeaseOwner == owner {
		r.clearLease()
	}
}

func (r *GenerationRequest) clearLease() {
	r.LeaseOwner = ""
	r.LeaseExpiresAt = nil
}

// Clone returns a deep copy, so stores can hand out snapshots that callers may not mutate.
func (r *GenerationRequest) Clone() *GenerationRequest {
	c := *r
	if r.Results != nil {
		res := *r.Results
		c.Results = &res
	}
	if r.LastError != nil {
		e := *r.LastError
		e.Detail = append(json.RawMessage(nil), r.LastError.Detail...)
		c.LastError = &e
	}
	c.LeaseExpiresAt = cloneTime(r.LeaseExpiresAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.FailedAt = cloneTime(r.FailedAt)
	return &c
}

func setOnce(field **time.Time, now time.Time) {
	if *field == nil {
		t := now
		*field = &t
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
