package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
)

func TestGetLeaderboard(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, market.DefaultParams())
	e.predict(t, "userX", "A", 0.9, 100)
	e.predict(t, "userY", "B", 0.4, 50)

	entries, err := e.leaderboard.GetLeaderboard(ctx, domain.TimeframeAll, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = e.resolutions.ResolvePoll(ctx, "poll-1", "A", "admin")
	require.NoError(t, err)

	for _, tf := range []domain.Timeframe{domain.TimeframeDaily, domain.TimeframeWeekly, domain.TimeframeMonthly, domain.TimeframeAll} {
		entries, err = e.leaderboard.GetLeaderboard(ctx, tf, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2, tf)

		assert.Equal(t, 1, entries[0].Rank)
		assert.Equal(t, "userX", entries[0].UserID)
		assert.Equal(t, int64(55), entries[0].NetProfit)
		assert.InDelta(t, 55.0, entries[0].ROI, 1e-9)
		assert.InDelta(t, 1.0, entries[0].WinRate, 1e-12)

		assert.Equal(t, 2, entries[1].Rank)
		assert.Equal(t, "userY", entries[1].UserID)
		assert.Equal(t, int64(-50), entries[1].NetProfit)
	}

	entries, err = e.leaderboard.GetLeaderboard(ctx, domain.TimeframeAll, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "userX", entries[0].UserID)
}
