package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// PredictionService defines the methods that the prediction handler requires
// from the service layer.
type PredictionService interface {
	CreateOrUpdatePrediction(ctx context.Context, in domain.PredictionInput) (domain.Prediction, error)
}

// PredictionHandler accepts prediction submissions.
type PredictionHandler struct {
	predictions PredictionService
	logger      *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(predictions PredictionService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictions: predictions,
		logger:      handlerLogger(logger, "prediction"),
	}
}

// predictionRequest is the JSON body of a prediction submission. The poll ID
// comes from the path.
type predictionRequest struct {
	UserID     string  `json:"user_id"`
	OptionID   string  `json:"option_id"`
	Confidence float64 `json:"confidence"`
	Points     int64   `json:"points"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Submit creates or replaces the caller's prediction on a poll.
// POST /api/polls/{id}/predictions
func (h *PredictionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		writeError(w, http.StatusBadRequest, "missing poll id")
		return
	}

	var req predictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pred, err := h.predictions.CreateOrUpdatePrediction(r.Context(), domain.PredictionInput{
		UserID:     req.UserID,
		PollID:     pollID,
		OptionID:   req.OptionID,
		Confidence: req.Confidence,
		Points:     req.Points,
		Reasoning:  req.Reasoning,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "submit prediction", err)
		return
	}
	writeJSON(w, http.StatusCreated, pred)
}
