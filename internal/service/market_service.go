package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
	"github.com/alanyoungcy/pollmarket/internal/metrics"
)

// volatilitySnapshots is how many snapshots analytics reads per poll.
const volatilitySnapshots = 10

// MarketService serves odds and analytics. Odds are cached; the store stays
// the source of truth and any cached entry can be recomputed from it.
type MarketService struct {
	store   domain.PredictionStore
	snaps   domain.SnapshotStore
	cache   domain.OddsCache
	bus     domain.SignalBus
	params  market.Params
	metrics *metrics.EngineMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewMarketService creates a MarketService. cache and bus may be nil.
func NewMarketService(
	store domain.PredictionStore,
	snaps domain.SnapshotStore,
	cache domain.OddsCache,
	bus domain.SignalBus,
	params market.Params,
	m *metrics.EngineMetrics,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		store:   store,
		snaps:   snaps,
		cache:   cache,
		bus:     bus,
		params:  params,
		metrics: m,
		logger:  logger.With(slog.String("component", "market_service")),
		now:     time.Now,
	}
}

// GetMarketOdds returns the current odds of a poll, from cache when possible.
func (s *MarketService) GetMarketOdds(ctx context.Context, pollID string) (domain.MarketOdds, error) {
	if s.cache != nil {
		odds, err := s.cache.Get(ctx, pollID)
		if err == nil {
			s.metrics.RecordCache(true)
			return odds, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "odds cache get failed",
				slog.String("poll_id", pollID),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.RecordCache(false)
	}

	poll, err := s.store.FindPoll(ctx, pollID)
	if err != nil {
		return domain.MarketOdds{}, fmt.Errorf("market_service: find poll %s: %w", pollID, err)
	}
	odds, err := s.computeOdds(ctx, poll)
	if err != nil {
		return domain.MarketOdds{}, err
	}
	s.cacheOdds(ctx, odds)
	return odds, nil
}

// RefreshOdds drops the cached odds of a poll, recomputes them and
// broadcasts the result on the poll's odds channel. Cache and broadcast
// failures are logged only.
func (s *MarketService) RefreshOdds(ctx context.Context, poll domain.Poll) (domain.MarketOdds, error) {
	s.InvalidateOdds(ctx, poll.ID)

	odds, err := s.computeOdds(ctx, poll)
	if err != nil {
		return domain.MarketOdds{}, err
	}
	s.cacheOdds(ctx, odds)
	s.publish(ctx, domain.OddsChannel(poll.ID), odds)
	return odds, nil
}

// InvalidateOdds drops the cached odds of a poll.
func (s *MarketService) InvalidateOdds(ctx context.Context, pollID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, pollID); err != nil {
		s.logger.WarnContext(ctx, "odds cache invalidate failed",
			slog.String("poll_id", pollID),
			slog.String("error", err.Error()),
		)
	}
}

// GetMarketAnalytics returns aggregate market metrics for a poll.
func (s *MarketService) GetMarketAnalytics(ctx context.Context, pollID string) (domain.MarketAnalytics, error) {
	started := s.now()
	defer s.metrics.ObserveCompute("analytics", started)

	poll, err := s.store.FindPoll(ctx, pollID)
	if err != nil {
		return domain.MarketAnalytics{}, fmt.Errorf("market_service: find poll %s: %w", pollID, err)
	}
	preds, err := s.workingSet(ctx, poll)
	if err != nil {
		return domain.MarketAnalytics{}, err
	}

	reputations, err := s.store.FindReputations(ctx, userIDs(preds))
	if err != nil {
		return domain.MarketAnalytics{}, fmt.Errorf("market_service: find reputations %s: %w", pollID, err)
	}

	var snapshots []domain.MarketSnapshot
	if s.snaps != nil {
		snapshots, err = s.snaps.FindHistoricalSnapshots(ctx, pollID, volatilitySnapshots)
		if err != nil {
			return domain.MarketAnalytics{}, fmt.Errorf("market_service: find snapshots %s: %w", pollID, err)
		}
	}

	return market.CalculateAnalytics(pollID, preds, reputations, snapshots), nil
}

// computeOdds reads the working set and trend window of a poll and derives
// its odds.
func (s *MarketService) computeOdds(ctx context.Context, poll domain.Poll) (domain.MarketOdds, error) {
	started := s.now()
	defer s.metrics.ObserveCompute("odds", started)

	preds, err := s.workingSet(ctx, poll)
	if err != nil {
		return domain.MarketOdds{}, err
	}

	cutoff := market.RecentCutoff(started, s.params)
	var recent []domain.Prediction
	if poll.IsResolved() {
		for _, p := range preds {
			if !p.CreatedAt.Before(cutoff) {
				recent = append(recent, p)
			}
		}
	} else {
		recent, err = s.store.FindPredictionsSince(ctx, poll.ID, cutoff)
		if err != nil {
			return domain.MarketOdds{}, fmt.Errorf("market_service: find recent predictions %s: %w", poll.ID, err)
		}
	}

	return domain.MarketOdds{
		PollID:     poll.ID,
		Options:    market.CalculateOdds(poll, preds, recent, s.params),
		ComputedAt: started.UTC(),
	}, nil
}

// workingSet returns the predictions odds and analytics are computed over:
// the open ones, or for a resolved poll every prediction so the market stays
// as it was at resolution.
func (s *MarketService) workingSet(ctx context.Context, poll domain.Poll) ([]domain.Prediction, error) {
	var (
		preds []domain.Prediction
		err   error
	)
	if poll.IsResolved() {
		preds, err = s.store.FindPredictions(ctx, poll.ID)
	} else {
		preds, err = s.store.FindUnresolvedPredictions(ctx, poll.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("market_service: find predictions %s: %w", poll.ID, err)
	}
	return preds, nil
}

func (s *MarketService) cacheOdds(ctx context.Context, odds domain.MarketOdds) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, odds); err != nil {
		s.logger.WarnContext(ctx, "odds cache set failed",
			slog.String("poll_id", odds.PollID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publish(ctx context.Context, channel string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal broadcast failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "broadcast failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func userIDs(preds []domain.Prediction) []string {
	seen := make(map[string]struct{}, len(preds))
	out := make([]string, 0, len(preds))
	for _, p := range preds {
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, p.UserID)
	}
	return out
}
