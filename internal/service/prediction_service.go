package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
	"github.com/alanyoungcy/pollmarket/internal/metrics"
)

// MaxReasoningLength caps the free-text reasoning attached to a prediction.
const MaxReasoningLength = 2000

// PredictionService accepts prediction submissions.
type PredictionService struct {
	store   domain.PredictionStore
	market  *MarketService
	params  market.Params
	metrics *metrics.EngineMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewPredictionService creates a PredictionService. odds may be nil, in which
// case no odds are refreshed after a write.
func NewPredictionService(
	store domain.PredictionStore,
	odds *MarketService,
	params market.Params,
	m *metrics.EngineMetrics,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		store:   store,
		market:  odds,
		params:  params,
		metrics: m,
		logger:  logger.With(slog.String("component", "prediction_service")),
		now:     time.Now,
	}
}

// CreateOrUpdatePrediction validates in and stores it as the user's single
// prediction on the poll, replacing any earlier one. The stake must fit in
// the user's points minus what is already staked on other open polls. The
// poll's cached odds are dropped and recomputed afterwards.
func (s *PredictionService) CreateOrUpdatePrediction(ctx context.Context, in domain.PredictionInput) (domain.Prediction, error) {
	in.Reasoning = strings.TrimSpace(in.Reasoning)
	if err := s.validate(in); err != nil {
		s.metrics.RecordPrediction(metrics.ResultRejected, 0)
		return domain.Prediction{}, err
	}

	poll, err := s.checkPoll(ctx, in)
	if err != nil {
		s.metrics.RecordPrediction(metrics.ResultRejected, 0)
		return domain.Prediction{}, err
	}

	user, err := s.store.FindUser(ctx, in.UserID)
	if err != nil {
		s.metrics.RecordPrediction(metrics.ResultRejected, 0)
		return domain.Prediction{}, fmt.Errorf("prediction_service: find user %s: %w", in.UserID, err)
	}
	open, err := s.store.OpenStake(ctx, in.UserID, in.PollID)
	if err != nil {
		s.metrics.RecordPrediction(metrics.ResultError, 0)
		return domain.Prediction{}, fmt.Errorf("prediction_service: open stake %s: %w", in.UserID, err)
	}
	// The stake being replaced on this poll is not counted against the user.
	if available := user.Points - open; available < in.Points {
		s.metrics.RecordPrediction(metrics.ResultRejected, 0)
		return domain.Prediction{}, fmt.Errorf("prediction_service: user %s has %d points available (%d staked elsewhere), stake %d: %w",
			user.ID, available, open, in.Points, domain.ErrInsufficientBalance)
	}

	stored, err := s.store.UpsertPrediction(ctx, domain.Prediction{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		PollID:     in.PollID,
		OptionID:   in.OptionID,
		Confidence: in.Confidence,
		Points:     in.Points,
		Reasoning:  in.Reasoning,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, domain.ErrAlreadyResolved) || errors.Is(err, domain.ErrPollInactive) {
			result = metrics.ResultRejected
		}
		s.metrics.RecordPrediction(result, 0)
		return domain.Prediction{}, fmt.Errorf("prediction_service: upsert prediction: %w", err)
	}
	s.metrics.RecordPrediction(metrics.ResultAccepted, stored.Points)

	s.logger.InfoContext(ctx, "prediction stored",
		slog.String("prediction_id", stored.ID),
		slog.String("poll_id", stored.PollID),
		slog.String("user_id", stored.UserID),
		slog.String("option_id", stored.OptionID),
		slog.Int64("points", stored.Points),
	)

	if s.market != nil {
		if _, err := s.market.RefreshOdds(ctx, poll); err != nil {
			s.logger.WarnContext(ctx, "refresh odds failed",
				slog.String("poll_id", poll.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return stored, nil
}

func (s *PredictionService) validate(in domain.PredictionInput) error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return domain.NewValidationError("user_id", "required")
	case strings.TrimSpace(in.PollID) == "":
		return domain.NewValidationError("poll_id", "required")
	case strings.TrimSpace(in.OptionID) == "":
		return domain.NewValidationError("option_id", "required")
	case math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1:
		return domain.NewValidationError("confidence", fmt.Sprintf("must be in [0,1], got %v", in.Confidence))
	case in.Points < s.params.MinStake || in.Points > s.params.MaxStake:
		return domain.NewValidationError("points",
			fmt.Sprintf("must be in [%d,%d], got %d", s.params.MinStake, s.params.MaxStake, in.Points))
	case utf8.RuneCountInString(in.Reasoning) > MaxReasoningLength:
		return domain.NewValidationError("reasoning", fmt.Sprintf("longer than %d characters", MaxReasoningLength))
	}
	return nil
}

// checkPoll loads the poll and verifies it still accepts predictions on the
// chosen option.
func (s *PredictionService) checkPoll(ctx context.Context, in domain.PredictionInput) (domain.Poll, error) {
	poll, err := s.store.FindPoll(ctx, in.PollID)
	if err != nil {
		return domain.Poll{}, fmt.Errorf("prediction_service: find poll %s: %w", in.PollID, err)
	}
	if !poll.HasOption(in.OptionID) {
		return domain.Poll{}, fmt.Errorf("prediction_service: option %s on poll %s: %w", in.OptionID, poll.ID, domain.ErrNotFound)
	}
	if !poll.IsActive || poll.IsResolved() {
		return domain.Poll{}, fmt.Errorf("prediction_service: poll %s: %w", poll.ID, domain.ErrPollInactive)
	}
	if poll.IsExpired(s.now()) {
		return domain.Poll{}, fmt.Errorf("prediction_service: poll %s: %w", poll.ID, domain.ErrPollExpired)
	}
	return poll, nil
}
