package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time

	// Audit log filters; empty matches everything.
	Event  string
	PollID string
}

// PollReader reads polls and the user fields the engine depends on.
type PollReader interface {
	FindPoll(ctx context.Context, id string) (Poll, error)
	ListActivePolls(ctx context.Context) ([]Poll, error)
	FindUser(ctx context.Context, id string) (User, error)
	FindReputations(ctx context.Context, userIDs []string) (map[string]int64, error)
}

// PredictionStore is the repository the engine runs against.
type PredictionStore interface {
	PollReader

	// UpsertPrediction atomically inserts or replaces the prediction keyed
	// by (UserID, PollID) and returns the stored row. The write only lands
	// while the poll is active and unresolved: ErrPollInactive otherwise,
	// ErrAlreadyResolved when the user's existing prediction is settled.
	UpsertPrediction(ctx context.Context, p Prediction) (Prediction, error)
	// OpenStake sums the user's unresolved stakes on polls other than
	// excludePollID.
	OpenStake(ctx context.Context, userID, excludePollID string) (int64, error)
	FindPredictions(ctx context.Context, pollID string) ([]Prediction, error)
	FindUnresolvedPredictions(ctx context.Context, pollID string) ([]Prediction, error)
	FindPredictionsSince(ctx context.Context, pollID string, since time.Time) ([]Prediction, error)
	// FindResolvedPredictions returns resolved predictions across all polls
	// created at or after since (all of them when since is nil).
	FindResolvedPredictions(ctx context.Context, since *time.Time) ([]Prediction, error)

	// WithResolution runs fn inside a single transaction. Nothing fn wrote is
	// visible if fn returns an error.
	WithResolution(ctx context.Context, fn func(tx ResolutionTx) error) error
}

// ResolutionTx is the write side of a poll resolution.
type ResolutionTx interface {
	// MarkPollResolved sets resolved_at only if it is still null and returns
	// ErrAlreadyResolved otherwise.
	MarkPollResolved(ctx context.Context, pollID, winningOptionID, source string, at time.Time) error
	FindUnresolvedPredictions(ctx context.Context, pollID string) ([]Prediction, error)
	BatchUpdatePredictions(ctx context.Context, updates []PredictionResolution) error
	AdjustUserReputation(ctx context.Context, userID string, delta int64) error
}

// SnapshotStore persists market snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s MarketSnapshot) error
	// FindHistoricalSnapshots returns up to limit of the most recent
	// snapshots of a poll, oldest first.
	FindHistoricalSnapshots(ctx context.Context, pollID string, limit int) ([]MarketSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditPollID returns the poll an audit detail refers to, or "".
func AuditPollID(detail map[string]any) string {
	id, _ := detail["poll_id"].(string)
	return id
}

// AuditStore persists an append-only audit log. Entries whose detail carries
// a "poll_id" string are indexed by poll.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Store bundles every persistence interface a backend provides.
type Store interface {
	PredictionStore
	SnapshotStore
	AuditStore
	Close() error
}
