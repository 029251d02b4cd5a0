package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/vidgen/internal/api/shared"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/service"
)

// RequestHandler serves generation request submission and status.
type RequestHandler struct {
	requests service.RequestService
	logger   *slog.Logger
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(requests service.RequestService, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandler{requests: requests, logger: logger}
}

// Submit handles POST /v1/requests. The job runs asynchronously, so the
// response is 202 Accepted with the pending record.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = logger.CorrelationID(r.Context())
	}

	created, err := h.requests.Submit(r.Context(), service.SubmitParams{
		CorrelationID:       correlationID,
		StudentID:           req.StudentID,
		Query:               req.Query,
		GradeLevel:          req.GradeLevel,
		PersonalizationHint: req.PersonalizationHint,
		TopicID:             req.TopicID,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	w.Header().Set("Location", "/v1/requests/"+created.ID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, requestToResponse(created))
}

// GetStatus handles GET /v1/requests/{id}.
func (h *RequestHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	req, err := h.requests.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, requestToResponse(req))
}
