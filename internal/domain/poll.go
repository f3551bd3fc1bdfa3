package domain

import "time"

// Option is one selectable answer of a poll.
type Option struct {
	ID       string `json:"id"`
	PollID   string `json:"poll_id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// Poll is the question a market is built on. The engine reads polls and only
// ever writes the resolution fields.
type Poll struct {
	ID               string     `json:"id"`
	Question         string     `json:"question"`
	Options          []Option   `json:"options"`
	IsActive         bool       `json:"is_active"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolutionResult string     `json:"resolution_result,omitempty"`
	ResolutionSource string     `json:"resolution_source,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// IsResolved reports whether the poll has been settled.
func (p Poll) IsResolved() bool {
	return p.ResolvedAt != nil
}

// IsExpired reports whether the poll stopped accepting predictions at now.
func (p Poll) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// HasOption reports whether optionID belongs to the poll.
func (p Poll) HasOption(optionID string) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// User is the slice of the user record the engine needs. Reputation is only
// ever changed through deltas.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Reputation int64  `json:"reputation"`
	Points     int64  `json:"points"`
}
