package domain

import "time"

// Prediction is a user's forecast on a poll: one option, a confidence in
// [0,1] and an integer stake. There is at most one per (UserID, PollID).
type Prediction struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	PollID     string     `json:"poll_id"`
	OptionID   string     `json:"option_id"`
	Confidence float64    `json:"confidence"`
	Points     int64      `json:"points"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Payout     *int64     `json:"payout,omitempty"`
	IsResolved bool       `json:"is_resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// PayoutPoints returns the settled payout, or 0 while unresolved.
func (p Prediction) PayoutPoints() int64 {
	if p.Payout == nil {
		return 0
	}
	return *p.Payout
}

// PredictionInput carries a prediction submission before validation.
type PredictionInput struct {
	UserID     string  `json:"user_id"`
	PollID     string  `json:"poll_id"`
	OptionID   string  `json:"option_id"`
	Confidence float64 `json:"confidence"`
	Points     int64   `json:"points"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// PredictionResolution is the settled state written back for one prediction.
type PredictionResolution struct {
	PredictionID string
	UserID       string
	Payout       int64
	ResolvedAt   time.Time
}
