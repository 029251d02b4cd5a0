package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/vidgen/internal/api/shared"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/phrazzld/vidgen/internal/service"
)

// DeadLetterHandler serves the dead-letter administration endpoints.
type DeadLetterHandler struct {
	deadLetters service.DeadLetterService
	logger      *slog.Logger
}

// NewDeadLetterHandler creates a new DeadLetterHandler
func NewDeadLetterHandler(deadLetters service.DeadLetterService, logger *slog.Logger) *DeadLetterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterHandler{deadLetters: deadLetters, logger: logger}
}

// List handles GET /v1/admin/dead-letters?limit=N.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryInt(r, "limit", service.DefaultDeadLetterLimit)
	if err != nil {
		HandleAPIError(w, r, err, "Invalid limit")
		return
	}

	letters, err := h.deadLetters.List(r.Context(), limit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := DeadLetterListResponse{DeadLetters: make([]DeadLetterResponse, 0, len(letters))}
	for _, d := range letters {
		resp.DeadLetters = append(resp.DeadLetters, NewDeadLetterResponse(d))
	}
	resp.Count = len(resp.DeadLetters)
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Replay handles POST /v1/admin/dead-letters/{id}/replay.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	newID, err := h.deadLetters.Replay(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("dead letter replayed via API",
		slog.String("dead_letter_id", id),
		slog.String("message_id", newID))
	shared.RespondWithJSON(w, r, http.StatusAccepted, ReplayResponse{DeadLetterID: id, MessageID: newID})
}
