package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/cache/local"
	"github.com/alanyoungcy/pollmarket/internal/config"
	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = config.DriverMemory
	return &cfg
}

func TestWire_MemoryUsesLocalCaches(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Store{}, deps.Store)
	assert.IsType(t, &local.OddsCache{}, deps.OddsCache)
	assert.IsType(t, &local.RateLimiter{}, deps.RateLimiter)
	assert.IsType(t, &local.SignalBus{}, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.False(t, deps.Notifier.Enabled())
	assert.NotNil(t, deps.Metrics)
	assert.Empty(t, deps.Health)
}

func TestWire_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "oracle"

	_, _, err := Wire(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestRetry(t *testing.T) {
	t.Run("succeeds once connect does", func(t *testing.T) {
		attempts := 0
		err := retry(context.Background(), testLogger(), "db", 10*time.Second, func() error {
			attempts++
			if attempts < 2 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("gives up after timeout", func(t *testing.T) {
		err := retry(context.Background(), testLogger(), "db", time.Millisecond, func() error {
			return errors.New("connection refused")
		})
		require.Error(t, err)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := retry(ctx, testLogger(), "db", time.Minute, func() error {
			return errors.New("connection refused")
		})
		require.Error(t, err)
	})
}

func TestBuildServices_EndToEnd(t *testing.T) {
	cfg := memoryConfig()
	a := New(cfg, testLogger())
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	st := deps.Store.(*memory.Store)
	st.AddPoll(domain.Poll{
		ID:       "poll-1",
		IsActive: true,
		Options: []domain.Option{
			{ID: "A", PollID: "poll-1", Position: 0},
			{ID: "B", PollID: "poll-1", Position: 1},
		},
		CreatedAt: time.Now().Add(-time.Hour),
	})
	st.AddUser(domain.User{ID: "userX", Points: 1000})
	st.AddUser(domain.User{ID: "userY", Points: 1000})

	svcs := a.buildServices(deps)
	ctx := context.Background()

	_, err = svcs.predictions.CreateOrUpdatePrediction(ctx, domain.PredictionInput{
		UserID: "userX", PollID: "poll-1", OptionID: "A", Confidence: 0.9, Points: 100,
	})
	require.NoError(t, err)
	_, err = svcs.predictions.CreateOrUpdatePrediction(ctx, domain.PredictionInput{
		UserID: "userY", PollID: "poll-1", OptionID: "B", Confidence: 0.4, Points: 50,
	})
	require.NoError(t, err)

	settlement, err := svcs.resolutions.ResolvePoll(ctx, "poll-1", "A", "manual")
	require.NoError(t, err)
	assert.Equal(t, int64(150), settlement.TotalPool)
	assert.Equal(t, int64(155), settlement.PaidOut)

	board, err := svcs.leaderboard.GetLeaderboard(ctx, domain.TimeframeAll, 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "userX", board[0].UserID)

	require.NoError(t, a.LeaderboardMode(ctx, deps))
}

func TestRun_ModeSelection(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trade"
	a := New(cfg, testLogger())
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)
	a.Close()

	cfg = memoryConfig()
	cfg.Mode = config.ModeLeaderboard
	a = New(cfg, testLogger())
	require.NoError(t, a.Run(context.Background()))
	a.Close()
	a.Close()
}
