package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/store/sqlite"
)

func openSeeded(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	expires := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.AddPoll(ctx, domain.Poll{
		ID:        "poll-1",
		Question:  "Will it rain?",
		IsActive:  true,
		ExpiresAt: &expires,
		Options: []domain.Option{
			{ID: "B", Text: "No", Position: 1},
			{ID: "A", Text: "Yes", Position: 0},
		},
	}))
	require.NoError(t, db.AddUser(ctx, domain.User{ID: "u1", Username: "alice", Points: 1000}))
	require.NoError(t, db.AddUser(ctx, domain.User{ID: "u2", Username: "bob", Points: 1000, Reputation: 250}))
	return db
}

func TestSQLiteStore_FindPoll(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()

	p, err := db.FindPoll(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, "Will it rain?", p.Question)
	assert.True(t, p.IsActive)
	assert.False(t, p.IsResolved())
	require.NotNil(t, p.ExpiresAt)
	require.Len(t, p.Options, 2)
	assert.Equal(t, "A", p.Options[0].ID)
	assert.Equal(t, "poll-1", p.Options[0].PollID)

	_, err = db.FindPoll(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	active, err := db.ListActivePolls(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Len(t, active[0].Options, 2)
}

func TestSQLiteStore_UpsertKeepsOneRowPerUserPoll(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, err := db.UpsertPrediction(ctx, domain.Prediction{
		ID: "p1", UserID: "u1", PollID: "poll-1", OptionID: "A", Confidence: 0.7, Points: 100, Reasoning: "gut", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", first.ID)
	assert.Equal(t, "gut", first.Reasoning)
	assert.Nil(t, first.Payout)

	second, err := db.UpsertPrediction(ctx, domain.Prediction{
		ID: "p2", UserID: "u1", PollID: "poll-1", OptionID: "B", Confidence: 0.3, Points: 40, CreatedAt: now.Add(time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", second.ID)
	assert.Equal(t, "B", second.OptionID)
	assert.True(t, second.CreatedAt.Equal(now.Add(time.Second)))

	preds, err := db.FindPredictions(ctx, "poll-1")
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, int64(40), preds[0].Points)
}

func TestSQLiteStore_FindPredictionsSince(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.UpsertPrediction(ctx, domain.Prediction{ID: "old", UserID: "u1", PollID: "poll-1", OptionID: "A", Confidence: 0.5, Points: 10, CreatedAt: now.Add(-30 * time.Hour)})
	require.NoError(t, err)
	_, err = db.UpsertPrediction(ctx, domain.Prediction{ID: "new", UserID: "u2", PollID: "poll-1", OptionID: "A", Confidence: 0.5, Points: 10, CreatedAt: now})
	require.NoError(t, err)

	recent, err := db.FindPredictionsSince(ctx, "poll-1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ID)
}

func TestSQLiteStore_ResolutionIsOneShot(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.UpsertPrediction(ctx, domain.Prediction{ID: "p1", UserID: "u1", PollID: "poll-1", OptionID: "A", Confidence: 0.9, Points: 100, CreatedAt: now})
	require.NoError(t, err)
	_, err = db.UpsertPrediction(ctx, domain.Prediction{ID: "p2", UserID: "u2", PollID: "poll-1", OptionID: "B", Confidence: 0.4, Points: 50, CreatedAt: now})
	require.NoError(t, err)

	resolve := func(winner string) error {
		return db.WithResolution(ctx, func(tx domain.ResolutionTx) error {
			if err := tx.MarkPollResolved(ctx, "poll-1", winner, "admin", now); err != nil {
				return err
			}
			preds, err := tx.FindUnresolvedPredictions(ctx, "poll-1")
			if err != nil {
				return err
			}
			var updates []domain.PredictionResolution
			for _, p := range preds {
				var payout int64
				if p.OptionID == winner {
					payout = 155
				}
				updates = append(updates, domain.PredictionResolution{PredictionID: p.ID, UserID: p.UserID, Payout: payout, ResolvedAt: now})
			}
			if err := tx.BatchUpdatePredictions(ctx, updates); err != nil {
				return err
			}
			return tx.AdjustUserReputation(ctx, "u1", 10)
		})
	}

	require.NoError(t, resolve("A"))
	assert.ErrorIs(t, resolve("B"), domain.ErrAlreadyResolved)

	poll, err := db.FindPoll(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, "A", poll.ResolutionResult)
	assert.Equal(t, "admin", poll.ResolutionSource)
	assert.False(t, poll.IsActive)

	resolved, err := db.FindResolvedPredictions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	payouts := map[string]int64{}
	for _, p := range resolved {
		assert.True(t, p.IsResolved)
		require.NotNil(t, p.ResolvedAt)
		payouts[p.ID] = p.PayoutPoints()
	}
	assert.Equal(t, map[string]int64{"p1": 155, "p2": 0}, payouts)

	u, err := db.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Reputation)

	active, err := db.ListActivePolls(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = db.UpsertPrediction(ctx, domain.Prediction{ID: "p3", UserID: "u1", PollID: "poll-1", OptionID: "B", Confidence: 0.1, Points: 10, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	require.NoError(t, db.AddUser(ctx, domain.User{ID: "u3", Username: "carol", Points: 1000}))
	_, err = db.UpsertPrediction(ctx, domain.Prediction{ID: "p4", UserID: "u3", PollID: "poll-1", OptionID: "B", Confidence: 0.9, Points: 500, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrPollInactive)
	unresolved, err := db.FindUnresolvedPredictions(ctx, "poll-1")
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestSQLiteStore_UpsertRequiresOpenPoll(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, db.AddPoll(ctx, domain.Poll{
		ID:       "closed",
		Question: "Paused?",
		IsActive: false,
		Options:  []domain.Option{{ID: "X", Text: "Yes"}},
	}))

	_, err := db.UpsertPrediction(ctx, domain.Prediction{ID: "p1", UserID: "u1", PollID: "closed", OptionID: "X", Confidence: 0.5, Points: 10, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrPollInactive)

	_, err = db.UpsertPrediction(ctx, domain.Prediction{ID: "p2", UserID: "u1", PollID: "missing", OptionID: "A", Confidence: 0.5, Points: 10, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	preds, err := db.FindPredictions(ctx, "closed")
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestSQLiteStore_OpenStake(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, db.AddPoll(ctx, domain.Poll{
		ID:       "poll-2",
		Question: "Will it snow?",
		IsActive: true,
		Options:  []domain.Option{{ID: "C", Text: "Yes"}},
	}))

	_, err := db.UpsertPrediction(ctx, domain.Prediction{ID: "p1", UserID: "u1", PollID: "poll-1", OptionID: "A", Confidence: 0.5, Points: 100, CreatedAt: now})
	require.NoError(t, err)
	_, err = db.UpsertPrediction(ctx, domain.Prediction{ID: "p2", UserID: "u1", PollID: "poll-2", OptionID: "C", Confidence: 0.5, Points: 250, CreatedAt: now})
	require.NoError(t, err)
	_, err = db.UpsertPrediction(ctx, domain.Prediction{ID: "p3", UserID: "u2", PollID: "poll-2", OptionID: "C", Confidence: 0.5, Points: 40, CreatedAt: now})
	require.NoError(t, err)

	open, err := db.OpenStake(ctx, "u1", "poll-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), open)

	open, err = db.OpenStake(ctx, "nobody", "poll-1")
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestSQLiteStore_ResolutionRollsBack(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithResolution(ctx, func(tx domain.ResolutionTx) error {
		if err := tx.MarkPollResolved(ctx, "poll-1", "A", "admin", time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	poll, err := db.FindPoll(ctx, "poll-1")
	require.NoError(t, err)
	assert.False(t, poll.IsResolved())

	err = db.WithResolution(ctx, func(tx domain.ResolutionTx) error {
		return tx.MarkPollResolved(ctx, "ghost", "A", "admin", time.Now())
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_SnapshotsReputationsAudit(t *testing.T) {
	db := openSeeded(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-24 * time.Hour)

	for i := 0; i < 12; i++ {
		require.NoError(t, db.SaveSnapshot(ctx, domain.MarketSnapshot{
			ID:            "s" + string(rune('a'+i)),
			PollID:        "poll-1",
			Probabilities: map[string]float64{"A": 0.5, "B": 0.45},
			TotalVolume:   int64(i),
			TakenAt:       base.Add(time.Duration(i) * time.Hour),
		}))
	}
	snaps, err := db.FindHistoricalSnapshots(ctx, "poll-1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 10)
	assert.Equal(t, int64(2), snaps[0].TotalVolume)
	assert.Equal(t, int64(11), snaps[9].TotalVolume)
	assert.InDelta(t, 0.45, snaps[0].Probabilities["B"], 1e-12)

	reps, err := db.FindReputations(ctx, []string{"u1", "u2", "nobody"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"u1": 0, "u2": 250}, reps)

	require.NoError(t, db.Log(ctx, "pool_retained", map[string]any{"poll_id": "poll-1"}))
	entries, err := db.List(ctx, domain.ListOpts{Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pool_retained", entries[0].Event)
	assert.Equal(t, "poll-1", entries[0].Detail["poll_id"])

	require.NoError(t, db.Log(ctx, "poll_resolved", map[string]any{"poll_id": "poll-2"}))
	require.NoError(t, db.Log(ctx, "startup", nil))

	entries, err = db.List(ctx, domain.ListOpts{PollID: "poll-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pool_retained", entries[0].Event)

	entries, err = db.List(ctx, domain.ListOpts{Event: "poll_resolved"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "poll-2", entries[0].Detail["poll_id"])
}
