package market

import (
	"sort"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// RankLeaderboard aggregates resolved predictions per user and ranks users by
// net profit, then ROI, then user ID. Unresolved predictions are ignored.
func RankLeaderboard(predictions []domain.Prediction, limit int) []domain.LeaderboardEntry {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	byUser := make(map[string]*domain.LeaderboardEntry)
	for _, p := range predictions {
		if !p.IsResolved {
			continue
		}
		e, ok := byUser[p.UserID]
		if !ok {
			e = &domain.LeaderboardEntry{UserID: p.UserID}
			byUser[p.UserID] = e
		}
		payout := p.PayoutPoints()
		e.TotalPayout += payout
		e.TotalStake += p.Points
		e.Predictions++
		if payout > 0 {
			e.Wins++
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(byUser))
	for _, e := range byUser {
		e.NetProfit = e.TotalPayout - e.TotalStake
		if e.TotalStake > 0 {
			e.ROI = float64(e.NetProfit) / float64(e.TotalStake) * 100
		}
		if e.Predictions > 0 {
			e.WinRate = float64(e.Wins) / float64(e.Predictions)
		}
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.NetProfit != b.NetProfit {
			return a.NetProfit > b.NetProfit
		}
		if a.ROI != b.ROI {
			return a.ROI > b.ROI
		}
		return a.UserID < b.UserID
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
