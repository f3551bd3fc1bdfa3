package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
	"github.com/alanyoungcy/pollmarket/internal/metrics"
)

// LeaderboardService ranks users by their settled results.
type LeaderboardService struct {
	store   domain.PredictionStore
	metrics *metrics.EngineMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewLeaderboardService creates a LeaderboardService.
func NewLeaderboardService(store domain.PredictionStore, m *metrics.EngineMetrics, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{
		store:   store,
		metrics: m,
		logger:  logger.With(slog.String("component", "leaderboard_service")),
		now:     time.Now,
	}
}

// GetLeaderboard ranks users over the resolved predictions created within
// timeframe. A non-positive limit means market.DefaultLeaderboardLimit and
// larger limits are capped at market.MaxLeaderboardLimit.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, timeframe domain.Timeframe, limit int) ([]domain.LeaderboardEntry, error) {
	s.metrics.RecordLeaderboard(string(timeframe))

	preds, err := s.store.FindResolvedPredictions(ctx, timeframe.Since(s.now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("leaderboard_service: find resolved predictions: %w", err)
	}
	entries := market.RankLeaderboard(preds, limit)

	s.logger.DebugContext(ctx, "leaderboard ranked",
		slog.String("timeframe", string(timeframe)),
		slog.Int("predictions", len(preds)),
		slog.Int("entries", len(entries)),
	)
	return entries, nil
}
