package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
	"github.com/alanyoungcy/pollmarket/internal/service"
	"github.com/alanyoungcy/pollmarket/internal/store/memory"
)

func TestCreateOrUpdatePrediction_ReplacesEarlierPrediction(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, market.DefaultParams())

	first := e.predict(t, "userX", "A", 0.6, 100)
	second := e.predict(t, "userX", "B", 0.7, 200)

	assert.Equal(t, first.ID, second.ID)
	preds, err := e.store.FindPredictions(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "B", preds[0].OptionID)
	assert.Equal(t, int64(200), preds[0].Points)
}

func TestCreateOrUpdatePrediction_Validation(t *testing.T) {
	e := newEngine(t, market.DefaultParams())

	valid := domain.PredictionInput{UserID: "userX", PollID: "poll-1", OptionID: "A", Confidence: 0.5, Points: 100}
	tests := []struct {
		name  string
		edit  func(*domain.PredictionInput)
		field string
	}{
		{"missing user", func(in *domain.PredictionInput) { in.UserID = "" }, "user_id"},
		{"missing poll", func(in *domain.PredictionInput) { in.PollID = " " }, "poll_id"},
		{"missing option", func(in *domain.PredictionInput) { in.OptionID = "" }, "option_id"},
		{"confidence above one", func(in *domain.PredictionInput) { in.Confidence = 1.01 }, "confidence"},
		{"negative confidence", func(in *domain.PredictionInput) { in.Confidence = -0.1 }, "confidence"},
		{"nan confidence", func(in *domain.PredictionInput) { in.Confidence = math.NaN() }, "confidence"},
		{"stake below minimum", func(in *domain.PredictionInput) { in.Points = 9 }, "points"},
		{"stake above maximum", func(in *domain.PredictionInput) { in.Points = 10_001 }, "points"},
		{"long reasoning", func(in *domain.PredictionInput) { in.Reasoning = strings.Repeat("x", 2001) }, "reasoning"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.edit(&in)
			_, err := e.predictions.CreateOrUpdatePrediction(context.Background(), in)
			require.ErrorIs(t, err, domain.ErrValidation)

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestCreateOrUpdatePrediction_BoundaryValuesAccepted(t *testing.T) {
	e := newEngine(t, market.DefaultParams())

	e.predict(t, "userX", "A", 0, 10)
	e.predict(t, "userY", "B", 1, 1000)
}

func TestCreateOrUpdatePrediction_PollState(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, market.DefaultParams())
	past := time.Now().Add(-time.Minute)

	e.store.AddPoll(domain.Poll{
		ID: "closed", IsActive: false,
		Options: []domain.Option{{ID: "A", PollID: "closed"}},
	})
	e.store.AddPoll(domain.Poll{
		ID: "expired", IsActive: true, ExpiresAt: &past,
		Options: []domain.Option{{ID: "A", PollID: "expired"}},
	})

	in := domain.PredictionInput{UserID: "userX", OptionID: "A", Confidence: 0.5, Points: 50}

	in.PollID = "closed"
	_, err := e.predictions.CreateOrUpdatePrediction(ctx, in)
	assert.ErrorIs(t, err, domain.ErrPollInactive)

	in.PollID = "expired"
	_, err = e.predictions.CreateOrUpdatePrediction(ctx, in)
	assert.ErrorIs(t, err, domain.ErrPollExpired)

	in.PollID = "missing"
	_, err = e.predictions.CreateOrUpdatePrediction(ctx, in)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	in.PollID = "poll-1"
	in.OptionID = "Z"
	_, err = e.predictions.CreateOrUpdatePrediction(ctx, in)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOrUpdatePrediction_RejectedAfterResolution(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, market.DefaultParams())
	e.predict(t, "userX", "A", 0.9, 100)

	_, err := e.resolutions.ResolvePoll(ctx, "poll-1", "A", "admin")
	require.NoError(t, err)

	_, err = e.predictions.CreateOrUpdatePrediction(ctx, domain.PredictionInput{
		UserID: "userX", PollID: "poll-1", OptionID: "B", Confidence: 0.5, Points: 50,
	})
	assert.ErrorIs(t, err, domain.ErrPollInactive)
}

func TestCreateOrUpdatePrediction_InsufficientBalance(t *testing.T) {
	e := newEngine(t, market.DefaultParams())

	_, err := e.predictions.CreateOrUpdatePrediction(context.Background(), domain.PredictionInput{
		UserID: "poor", PollID: "poll-1", OptionID: "A", Confidence: 0.5, Points: 50,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = e.predictions.CreateOrUpdatePrediction(context.Background(), domain.PredictionInput{
		UserID: "ghost", PollID: "poll-1", OptionID: "A", Confidence: 0.5, Points: 50,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOrUpdatePrediction_CountsStakesOnOtherOpenPolls(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, market.DefaultParams())
	e.store.AddPoll(domain.Poll{
		ID:       "poll-2",
		Question: "Will it slip?",
		IsActive: true,
		Options: []domain.Option{
			{ID: "C", PollID: "poll-2", Text: "Yes", Position: 0},
			{ID: "D", PollID: "poll-2", Text: "No", Position: 1},
		},
		CreatedAt: time.Now().Add(-time.Hour),
	})

	_, err := e.predictions.CreateOrUpdatePrediction(ctx, domain.PredictionInput{
		UserID: "userX", PollID: "poll-2", OptionID: "C", Confidence: 0.5, Points: 700,
	})
	require.NoError(t, err)

	_, err = e.predictions.CreateOrUpdatePrediction(ctx, domain.PredictionInput{
		UserID: "userX", PollID: "poll-1", OptionID: "A", Confidence: 0.5, Points: 400,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	e.predict(t, "userX", "A", 0.5, 300)
	// Replacing the stake on the same poll does not count the old one.
	e.predict(t, "userX", "B", 0.5, 300)

	_, err = e.predictions.CreateOrUpdatePrediction(ctx, domain.PredictionInput{
		UserID: "userX", PollID: "poll-2", OptionID: "D", Confidence: 0.5, Points: 701,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

// resolvingStore resolves the poll the first time the user is looked up,
// which lands between the poll check and the write.
type resolvingStore struct {
	*memory.Store
	once    sync.Once
	resolve func()
}

func (s *resolvingStore) FindUser(ctx context.Context, id string) (domain.User, error) {
	s.once.Do(s.resolve)
	return s.Store.FindUser(ctx, id)
}

func TestCreateOrUpdatePrediction_PollResolvedMidSubmission(t *testing.T) {
	ctx := context.Background()
	params := market.DefaultParams()
	e := newEngine(t, params)
	e.predict(t, "userX", "A", 0.9, 100)

	st := &resolvingStore{Store: e.store}
	st.resolve = func() {
		_, err := e.resolutions.ResolvePoll(ctx, "poll-1", "A", "admin")
		require.NoError(t, err)
	}
	predictions := service.NewPredictionService(st, e.market, params, nil, discardLogger())

	_, err := predictions.CreateOrUpdatePrediction(ctx, domain.PredictionInput{
		UserID: "userY", PollID: "poll-1", OptionID: "B", Confidence: 0.8, Points: 500,
	})
	assert.ErrorIs(t, err, domain.ErrPollInactive)

	poll, err := e.store.FindPoll(ctx, "poll-1")
	require.NoError(t, err)
	assert.True(t, poll.IsResolved())

	unresolved, err := e.store.FindUnresolvedPredictions(ctx, "poll-1")
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	preds, err := e.store.FindPredictions(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "userX", preds[0].UserID)
}

func TestCreateOrUpdatePrediction_RefreshesAndBroadcastsOdds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEngine(t, market.DefaultParams())

	updates, err := e.bus.Subscribe(ctx, domain.ChannelOddsPattern)
	require.NoError(t, err)

	e.predict(t, "userX", "A", 0.9, 100)

	var odds domain.MarketOdds
	require.NoError(t, json.Unmarshal(receive(t, updates), &odds))
	assert.Equal(t, "poll-1", odds.PollID)
	require.Len(t, odds.Options, 2)
	assert.Equal(t, int64(100), odds.Options[0].Volume)

	cached, err := e.cache.Get(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, odds.Options, cached.Options)

	// The next write replaces the cached entry.
	e.predict(t, "userY", "B", 0.4, 50)
	cached, err = e.cache.Get(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), cached.Options[1].Volume)
}
