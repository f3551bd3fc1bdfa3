package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// ResolutionService defines the methods that the resolution handler requires
// from the service layer.
type ResolutionService interface {
	ResolvePoll(ctx context.Context, pollID, winningOptionID, source string) (domain.Settlement, error)
	GetSettlement(ctx context.Context, pollID string) (domain.Settlement, error)
}

// ResolutionHandler serves poll resolution and settlement lookups.
type ResolutionHandler struct {
	resolutions ResolutionService
	logger      *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(resolutions ResolutionService, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolutions: resolutions,
		logger:      handlerLogger(logger, "resolution"),
	}
}

// resolveRequest is the JSON body of a resolution call.
type resolveRequest struct {
	WinningOptionID string `json:"winning_option_id"`
	Source          string `json:"source"`
}

// Resolve settles a poll. Only the first call on a poll succeeds; later
// calls get a 409.
// POST /api/polls/{id}/resolve
func (h *ResolutionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		writeError(w, http.StatusBadRequest, "missing poll id")
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.WinningOptionID = strings.TrimSpace(req.WinningOptionID)
	if req.WinningOptionID == "" {
		writeError(w, http.StatusBadRequest, "winning_option_id is required")
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = "manual"
	}

	settlement, err := h.resolutions.ResolvePoll(r.Context(), pollID, req.WinningOptionID, req.Source)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve poll", err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// GetSettlement returns the settlement of a resolved poll.
// GET /api/polls/{id}/settlement
func (h *ResolutionHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		writeError(w, http.StatusBadRequest, "missing poll id")
		return
	}

	settlement, err := h.resolutions.GetSettlement(r.Context(), pollID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}
