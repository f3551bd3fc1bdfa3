package domain

import "time"

// NoWinnerPolicy decides what happens to the pool when nobody picked the
// winning option.
type NoWinnerPolicy string

const (
	NoWinnerRetain NoWinnerPolicy = "retain"
	NoWinnerRefund NoWinnerPolicy = "refund"
)

// Payout is the settlement line of a single prediction.
type Payout struct {
	PredictionID     string  `json:"prediction_id"`
	UserID           string  `json:"user_id"`
	OptionID         string  `json:"option_id"`
	Points           int64   `json:"points"`
	Confidence       float64 `json:"confidence"`
	BasePayout       int64   `json:"base_payout"`
	Payout           int64   `json:"payout"`
	Won              bool    `json:"won"`
	ReputationChange int64   `json:"reputation_change"`
}

// Settlement is the result of resolving a poll.
type Settlement struct {
	PollID          string    `json:"poll_id"`
	WinningOptionID string    `json:"winning_option_id"`
	Source          string    `json:"source"`
	TotalPool       int64     `json:"total_pool"`
	WinningPool     int64     `json:"winning_pool"`
	PaidOut         int64     `json:"paid_out"`
	HouseRetained   int64     `json:"house_retained"`
	Winners         int       `json:"winners"`
	Losers          int       `json:"losers"`
	Refunded        bool      `json:"refunded"`
	Payouts         []Payout  `json:"payouts"`
	ResolvedAt      time.Time `json:"resolved_at"`
}
