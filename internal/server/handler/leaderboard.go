package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// LeaderboardService defines the methods that the leaderboard handler requires
// from the service layer.
type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, timeframe domain.Timeframe, limit int) ([]domain.LeaderboardEntry, error)
}

// LeaderboardHandler serves user rankings.
type LeaderboardHandler struct {
	leaderboard LeaderboardService
	logger      *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(leaderboard LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		leaderboard: leaderboard,
		logger:      handlerLogger(logger, "leaderboard"),
	}
}

type leaderboardResponse struct {
	Timeframe domain.Timeframe          `json:"timeframe"`
	Entries   []domain.LeaderboardEntry `json:"entries"`
}

// GetLeaderboard ranks users by net profit over a timeframe.
// GET /api/leaderboard?timeframe=weekly&limit=20
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	timeframe, err := domain.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get leaderboard", err)
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.leaderboard.GetLeaderboard(r.Context(), timeframe, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "get leaderboard", err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Timeframe: timeframe, Entries: entries})
}
