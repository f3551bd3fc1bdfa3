package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/cache/local"
	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
	"github.com/alanyoungcy/pollmarket/internal/service"
	"github.com/alanyoungcy/pollmarket/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engine struct {
	store       *memory.Store
	cache       *local.OddsCache
	bus         *local.SignalBus
	notifier    *recordingNotifier
	market      *service.MarketService
	predictions *service.PredictionService
	resolutions *service.ResolutionService
	leaderboard *service.LeaderboardService
	snapshots   *service.SnapshotService
}

func newEngine(t *testing.T, params market.Params) *engine {
	t.Helper()
	st := memory.New()
	st.AddPoll(domain.Poll{
		ID:       "poll-1",
		Question: "Will it ship?",
		IsActive: true,
		Options: []domain.Option{
			{ID: "A", PollID: "poll-1", Text: "Yes", Position: 0},
			{ID: "B", PollID: "poll-1", Text: "No", Position: 1},
		},
		CreatedAt: time.Now().Add(-time.Hour),
	})
	st.AddUser(domain.User{ID: "userX", Username: "x", Points: 1000})
	st.AddUser(domain.User{ID: "userY", Username: "y", Points: 1000})
	st.AddUser(domain.User{ID: "poor", Username: "poor", Points: 20})

	e := &engine{
		store:    st,
		cache:    local.NewOddsCache(time.Minute),
		bus:      local.NewSignalBus(),
		notifier: &recordingNotifier{},
	}
	logger := discardLogger()
	e.market = service.NewMarketService(st, st, e.cache, e.bus, params, nil, logger)
	e.predictions = service.NewPredictionService(st, e.market, params, nil, logger)
	e.resolutions = service.NewResolutionService(st, st, e.market, e.bus, e.notifier, nil, params, nil, logger)
	e.leaderboard = service.NewLeaderboardService(st, nil, logger)
	e.snapshots = service.NewSnapshotService(st, st, e.market, time.Hour, nil, logger)
	return e
}

func (e *engine) predict(t *testing.T, user, option string, confidence float64, points int64) domain.Prediction {
	t.Helper()
	p, err := e.predictions.CreateOrUpdatePrediction(context.Background(), domain.PredictionInput{
		UserID:     user,
		PollID:     "poll-1",
		OptionID:   option,
		Confidence: confidence,
		Points:     points,
	})
	if err != nil {
		t.Fatalf("predict %s: %v", user, err)
	}
	return p
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Settlement
}

func (n *recordingNotifier) NotifySettlement(_ context.Context, s domain.Settlement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, s)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}
