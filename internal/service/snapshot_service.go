package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/metrics"
)

// SnapshotService periodically records the odds of every open poll. The
// history feeds the volatility metric of the analytics.
type SnapshotService struct {
	polls    domain.PollReader
	snaps    domain.SnapshotStore
	market   *MarketService
	interval time.Duration
	metrics  *metrics.EngineMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSnapshotService creates a SnapshotService. interval is how often open
// polls are snapshotted.
func NewSnapshotService(
	polls domain.PollReader,
	snaps domain.SnapshotStore,
	odds *MarketService,
	interval time.Duration,
	m *metrics.EngineMetrics,
	logger *slog.Logger,
) *SnapshotService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &SnapshotService{
		polls:    polls,
		snaps:    snaps,
		market:   odds,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "snapshot_service")),
		now:      time.Now,
	}
}

// Run snapshots open polls every interval until ctx is cancelled. Call in a
// goroutine.
func (s *SnapshotService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SnapshotOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "snapshot run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SnapshotOnce records one snapshot per active, unresolved poll and returns
// how many were saved. A poll that fails is logged and skipped.
func (s *SnapshotService) SnapshotOnce(ctx context.Context) (int, error) {
	polls, err := s.polls.ListActivePolls(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot_service: list active polls: %w", err)
	}

	saved := 0
	for _, poll := range polls {
		if poll.IsResolved() {
			continue
		}
		odds, err := s.market.computeOdds(ctx, poll)
		if err != nil {
			s.logger.WarnContext(ctx, "snapshot odds failed",
				slog.String("poll_id", poll.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		snap := domain.MarketSnapshot{
			ID:            uuid.NewString(),
			PollID:        poll.ID,
			Probabilities: make(map[string]float64, len(odds.Options)),
			TakenAt:       s.now().UTC(),
		}
		for _, o := range odds.Options {
			snap.Probabilities[o.OptionID] = o.Probability
			snap.TotalVolume += o.Volume
		}
		if err := s.snaps.SaveSnapshot(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "save snapshot failed",
				slog.String("poll_id", poll.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		saved++
	}

	s.metrics.RecordSnapshots(saved)
	s.logger.InfoContext(ctx, "snapshots recorded", slog.Int("polls", len(polls)), slog.Int("saved", saved))
	return saved, nil
}
