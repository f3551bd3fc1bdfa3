package domain

import "time"

// Trend is the short-term direction of confidence on an option.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// OptionOdds is the derived market view of a single option.
type OptionOdds struct {
	OptionID    string  `json:"option_id"`
	Probability float64 `json:"probability"`
	ImpliedOdds string  `json:"implied_odds"`
	Volume      int64   `json:"volume"`
	Trend       Trend   `json:"trend"`
	Confidence  float64 `json:"confidence"`
}

// MarketOdds bundles the odds of every option of a poll.
type MarketOdds struct {
	PollID     string       `json:"poll_id"`
	Options    []OptionOdds `json:"options"`
	ComputedAt time.Time    `json:"computed_at"`
}

// MarketAnalytics holds aggregate health metrics for a poll's market.
type MarketAnalytics struct {
	PollID               string  `json:"poll_id"`
	TotalVolume          int64   `json:"total_volume"`
	UniquePredictors     int     `json:"unique_predictors"`
	AverageConfidence    float64 `json:"average_confidence"`
	ConsensusProbability float64 `json:"consensus_probability"`
	MarketEfficiency     float64 `json:"market_efficiency"`
	Volatility           float64 `json:"volatility"`
	LiquidityIndex       float64 `json:"liquidity_index"`
}

// MarketSnapshot is a point-in-time record of a poll's odds, used to measure
// volatility.
type MarketSnapshot struct {
	ID            string             `json:"id"`
	PollID        string             `json:"poll_id"`
	Probabilities map[string]float64 `json:"probabilities"`
	TotalVolume   int64              `json:"total_volume"`
	TakenAt       time.Time          `json:"taken_at"`
}
