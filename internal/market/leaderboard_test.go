package market_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
)

func resolved(user string, points, payout int64) domain.Prediction {
	at := time.Now()
	return domain.Prediction{
		ID:         fmt.Sprintf("%s-%d-%d", user, points, payout),
		UserID:     user,
		PollID:     "poll-1",
		OptionID:   "A",
		Points:     points,
		Payout:     &payout,
		IsResolved: true,
		ResolvedAt: &at,
	}
}

func TestRankLeaderboard(t *testing.T) {
	preds := []domain.Prediction{
		resolved("alice", 100, 155),
		resolved("alice", 50, 0),
		resolved("bob", 200, 300),
		resolved("carol", 10, 0),
		{UserID: "dave", Points: 1000, IsResolved: false},
	}

	entries := market.RankLeaderboard(preds, 10)
	require.Len(t, entries, 3)

	assert.Equal(t, "bob", entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, int64(100), entries[0].NetProfit)
	assert.InDelta(t, 50.0, entries[0].ROI, 1e-9)
	assert.Equal(t, 1.0, entries[0].WinRate)

	assert.Equal(t, "alice", entries[1].UserID)
	assert.Equal(t, int64(5), entries[1].NetProfit)
	assert.Equal(t, int64(150), entries[1].TotalStake)
	assert.Equal(t, 2, entries[1].Predictions)
	assert.Equal(t, 1, entries[1].Wins)
	assert.InDelta(t, 0.5, entries[1].WinRate, 1e-9)

	assert.Equal(t, "carol", entries[2].UserID)
	assert.Equal(t, int64(-10), entries[2].NetProfit)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestRankLeaderboard_Ties(t *testing.T) {
	preds := []domain.Prediction{
		resolved("zed", 100, 150),   // +50, roi 50
		resolved("amy", 100, 150),   // +50, roi 50
		resolved("kim", 1000, 1050), // +50, roi 5
	}
	entries := market.RankLeaderboard(preds, 0)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"amy", "zed", "kim"}, []string{entries[0].UserID, entries[1].UserID, entries[2].UserID})
}

func TestRankLeaderboard_ZeroStake(t *testing.T) {
	entries := market.RankLeaderboard([]domain.Prediction{resolved("u", 0, 0)}, 5)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].ROI)
}

func TestRankLeaderboard_Limit(t *testing.T) {
	var preds []domain.Prediction
	for i := 0; i < 150; i++ {
		preds = append(preds, resolved(fmt.Sprintf("user%03d", i), 100, int64(i)))
	}
	assert.Len(t, market.RankLeaderboard(preds, 0), market.DefaultLeaderboardLimit)
	assert.Len(t, market.RankLeaderboard(preds, 3), 3)
	assert.Len(t, market.RankLeaderboard(preds, 1000), market.MaxLeaderboardLimit)
	assert.Empty(t, market.RankLeaderboard(nil, 10))
}
