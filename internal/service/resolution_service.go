package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
	"github.com/alanyoungcy/pollmarket/internal/metrics"
)

// Resolution outcome labels.
const (
	OutcomeResolved        = "resolved"
	OutcomeRetained        = "retained"
	OutcomeRefunded        = "refunded"
	OutcomeAlreadyResolved = "already_resolved"
	OutcomeError           = "error"
)

// SettlementNotifier announces resolved polls.
type SettlementNotifier interface {
	NotifySettlement(ctx context.Context, s domain.Settlement) error
}

// SettlementLoader reads archived settlements back.
type SettlementLoader interface {
	LoadSettlement(ctx context.Context, pollID string, resolvedAt time.Time) (domain.Settlement, error)
}

// ResolutionService settles polls exactly once and fans the result out.
type ResolutionService struct {
	store    domain.PredictionStore
	audit    domain.AuditStore
	market   *MarketService
	bus      domain.SignalBus
	notifier SettlementNotifier
	archiver domain.SettlementArchiver
	params   market.Params
	metrics  *metrics.EngineMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolutionService creates a ResolutionService. Every dependency after
// store may be nil.
func NewResolutionService(
	store domain.PredictionStore,
	audit domain.AuditStore,
	odds *MarketService,
	bus domain.SignalBus,
	notifier SettlementNotifier,
	archiver domain.SettlementArchiver,
	params market.Params,
	m *metrics.EngineMetrics,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		store:    store,
		audit:    audit,
		market:   odds,
		bus:      bus,
		notifier: notifier,
		archiver: archiver,
		params:   params,
		metrics:  m,
		logger:   logger.With(slog.String("component", "resolution_service")),
		now:      time.Now,
	}
}

// ResolvePoll settles pollID with winningOptionID as the correct answer.
// Marking the poll, writing payouts and adjusting reputations happen in one
// transaction; a poll that is already resolved fails with
// domain.ErrAlreadyResolved and nothing is written.
func (s *ResolutionService) ResolvePoll(ctx context.Context, pollID, winningOptionID, source string) (domain.Settlement, error) {
	poll, err := s.store.FindPoll(ctx, pollID)
	if err != nil {
		s.metrics.RecordResolution(OutcomeError, 0, 0)
		return domain.Settlement{}, fmt.Errorf("resolution_service: find poll %s: %w", pollID, err)
	}
	if !poll.HasOption(winningOptionID) {
		s.metrics.RecordResolution(OutcomeError, 0, 0)
		return domain.Settlement{}, fmt.Errorf("resolution_service: option %s on poll %s: %w", winningOptionID, pollID, domain.ErrNotFound)
	}
	if poll.IsResolved() {
		s.metrics.RecordResolution(OutcomeAlreadyResolved, 0, 0)
		return domain.Settlement{}, fmt.Errorf("resolution_service: poll %s: %w", pollID, domain.ErrAlreadyResolved)
	}

	var settlement domain.Settlement
	err = s.store.WithResolution(ctx, func(tx domain.ResolutionTx) error {
		at := s.now().UTC()
		if err := tx.MarkPollResolved(ctx, pollID, winningOptionID, source, at); err != nil {
			return err
		}
		preds, err := tx.FindUnresolvedPredictions(ctx, pollID)
		if err != nil {
			return err
		}

		settlement = market.Settle(pollID, winningOptionID, preds, s.params)
		settlement.Source = source
		settlement.ResolvedAt = at

		updates := make([]domain.PredictionResolution, 0, len(settlement.Payouts))
		for _, p := range settlement.Payouts {
			updates = append(updates, domain.PredictionResolution{
				PredictionID: p.PredictionID,
				UserID:       p.UserID,
				Payout:       p.Payout,
				ResolvedAt:   at,
			})
		}
		if err := tx.BatchUpdatePredictions(ctx, updates); err != nil {
			return err
		}

		// Fixed user order keeps concurrent resolutions from deadlocking on
		// row locks.
		deltas := reputationDeltas(settlement.Payouts)
		for _, userID := range slices.Sorted(maps.Keys(deltas)) {
			delta := deltas[userID]
			if delta == 0 {
				continue
			}
			if err := tx.AdjustUserReputation(ctx, userID, delta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, domain.ErrAlreadyResolved) {
			outcome = OutcomeAlreadyResolved
		}
		s.metrics.RecordResolution(outcome, 0, 0)
		return domain.Settlement{}, fmt.Errorf("resolution_service: resolve poll %s: %w", pollID, err)
	}

	s.metrics.RecordResolution(settlementOutcome(settlement), settlement.PaidOut, settlement.HouseRetained)
	s.logger.InfoContext(ctx, "poll resolved",
		slog.String("poll_id", pollID),
		slog.String("winning_option_id", winningOptionID),
		slog.String("source", source),
		slog.Int64("total_pool", settlement.TotalPool),
		slog.Int64("paid_out", settlement.PaidOut),
		slog.Int("winners", settlement.Winners),
		slog.Int("losers", settlement.Losers),
	)

	s.afterResolution(ctx, settlement)
	return settlement, nil
}

// afterResolution runs the side effects of a committed resolution. None of
// them can undo it, so failures are only logged.
func (s *ResolutionService) afterResolution(ctx context.Context, st domain.Settlement) {
	if s.market != nil {
		s.market.InvalidateOdds(ctx, st.PollID)
	}

	if s.bus != nil {
		summary := st
		summary.Payouts = nil
		payload, err := json.Marshal(summary)
		if err == nil {
			err = s.bus.Publish(ctx, domain.ChannelResolutions, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "publish resolution failed",
				slog.String("poll_id", st.PollID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil {
		s.auditLog(ctx, "poll_resolved", map[string]any{
			"poll_id":           st.PollID,
			"winning_option_id": st.WinningOptionID,
			"source":            st.Source,
			"total_pool":        st.TotalPool,
			"winning_pool":      st.WinningPool,
			"paid_out":          st.PaidOut,
			"house_retained":    st.HouseRetained,
			"winners":           st.Winners,
			"losers":            st.Losers,
		})
		if st.WinningPool == 0 && st.TotalPool > 0 {
			event := "pool_retained"
			if st.Refunded {
				event = "pool_refunded"
			}
			s.auditLog(ctx, event, map[string]any{
				"poll_id":    st.PollID,
				"total_pool": st.TotalPool,
				"policy":     string(s.params.NoWinnerPolicy),
			})
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifySettlement(ctx, st); err != nil {
			s.logger.WarnContext(ctx, "notify settlement failed",
				slog.String("poll_id", st.PollID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.archiver != nil {
		path, err := s.archiver.ArchiveSettlement(ctx, st)
		if err != nil {
			s.logger.WarnContext(ctx, "archive settlement failed",
				slog.String("poll_id", st.PollID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.InfoContext(ctx, "settlement archived", slog.String("poll_id", st.PollID), slog.String("path", path))
		}
	}
}

func (s *ResolutionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// GetSettlement returns the settlement of a resolved poll. The archived copy
// is preferred; without one the settlement is rebuilt from the stored
// payouts.
func (s *ResolutionService) GetSettlement(ctx context.Context, pollID string) (domain.Settlement, error) {
	poll, err := s.store.FindPoll(ctx, pollID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("resolution_service: find poll %s: %w", pollID, err)
	}
	if !poll.IsResolved() {
		return domain.Settlement{}, fmt.Errorf("resolution_service: settlement of unresolved poll %s: %w", pollID, domain.ErrNotFound)
	}

	if loader, ok := s.archiver.(SettlementLoader); ok {
		st, err := loader.LoadSettlement(ctx, pollID, *poll.ResolvedAt)
		if err == nil {
			return st, nil
		}
		s.logger.DebugContext(ctx, "archived settlement unavailable",
			slog.String("poll_id", pollID),
			slog.String("error", err.Error()),
		)
	}

	preds, err := s.store.FindPredictions(ctx, pollID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("resolution_service: find predictions %s: %w", pollID, err)
	}
	return rebuildSettlement(poll, preds, s.params), nil
}

// rebuildSettlement recomputes the settlement of a resolved poll and pins
// every payout to the value actually stored, so a parameter change since
// resolution cannot alter what is reported as paid.
func rebuildSettlement(poll domain.Poll, preds []domain.Prediction, p market.Params) domain.Settlement {
	settled := make([]domain.Prediction, 0, len(preds))
	stored := make(map[string]int64, len(preds))
	for _, pred := range preds {
		if !pred.IsResolved {
			continue
		}
		settled = append(settled, pred)
		stored[pred.ID] = pred.PayoutPoints()
	}

	st := market.Settle(poll.ID, poll.ResolutionResult, settled, p)
	st.Source = poll.ResolutionSource
	st.ResolvedAt = poll.ResolvedAt.UTC()
	st.PaidOut = 0
	for i := range st.Payouts {
		st.Payouts[i].Payout = stored[st.Payouts[i].PredictionID]
		st.PaidOut += st.Payouts[i].Payout
	}
	st.HouseRetained = st.TotalPool - st.PaidOut
	return st
}

func reputationDeltas(payouts []domain.Payout) map[string]int64 {
	deltas := make(map[string]int64, len(payouts))
	for _, p := range payouts {
		deltas[p.UserID] += p.ReputationChange
	}
	return deltas
}

func settlementOutcome(s domain.Settlement) string {
	switch {
	case s.Refunded:
		return OutcomeRefunded
	case s.WinningPool == 0:
		return OutcomeRetained
	default:
		return OutcomeResolved
	}
}
