package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	GetMarketOdds(ctx context.Context, pollID string) (domain.MarketOdds, error)
	GetMarketAnalytics(ctx context.Context, pollID string) (domain.MarketAnalytics, error)
}

// MarketHandler serves the derived market views of a poll.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  handlerLogger(logger, "market"),
	}
}

// GetOdds returns the current odds of every option of a poll.
// GET /api/polls/{id}/odds
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing poll id")
		return
	}

	odds, err := h.markets.GetMarketOdds(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get odds", err)
		return
	}
	if odds.Options == nil {
		odds.Options = []domain.OptionOdds{}
	}
	writeJSON(w, http.StatusOK, odds)
}

// GetAnalytics returns aggregate market metrics of a poll.
// GET /api/polls/{id}/analytics
func (h *MarketHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing poll id")
		return
	}

	analytics, err := h.markets.GetMarketAnalytics(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}
