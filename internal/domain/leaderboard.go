package domain

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe scopes the leaderboard to predictions created within a window.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeAll     Timeframe = "all"
)

// ParseTimeframe converts s into a Timeframe. An empty string means all.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(strings.ToLower(strings.TrimSpace(s))); tf {
	case "":
		return TimeframeAll, nil
	case TimeframeDaily, TimeframeWeekly, TimeframeMonthly, TimeframeAll:
		return tf, nil
	default:
		return "", NewValidationError("timeframe", fmt.Sprintf("unknown timeframe %q", s))
	}
}

// Since returns the earliest creation time in scope, or nil for no cutoff.
func (t Timeframe) Since(now time.Time) *time.Time {
	var window time.Duration
	switch t {
	case TimeframeDaily:
		window = 24 * time.Hour
	case TimeframeWeekly:
		window = 7 * 24 * time.Hour
	case TimeframeMonthly:
		window = 30 * 24 * time.Hour
	default:
		return nil
	}
	since := now.Add(-window)
	return &since
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	TotalPayout int64   `json:"total_payout"`
	TotalStake  int64   `json:"total_stake"`
	NetProfit   int64   `json:"net_profit"`
	ROI         float64 `json:"roi"`
	WinRate     float64 `json:"win_rate"`
	Predictions int     `json:"predictions"`
	Wins        int     `json:"wins"`
}
