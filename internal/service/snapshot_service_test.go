package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/market"
)

func TestSnapshotOnce(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, market.DefaultParams())
	e.store.AddPoll(domain.Poll{
		ID: "closed", IsActive: false,
		Options: []domain.Option{{ID: "A", PollID: "closed"}},
	})
	e.predict(t, "userX", "A", 0.9, 100)
	e.predict(t, "userY", "B", 0.4, 50)

	saved, err := e.snapshots.SnapshotOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	snaps, err := e.store.FindHistoricalSnapshots(ctx, "poll-1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.NotEmpty(t, snaps[0].ID)
	assert.Equal(t, int64(150), snaps[0].TotalVolume)
	assert.InDelta(t, 0.83/1.21*0.95, snaps[0].Probabilities["A"], 1e-9)
	assert.InDelta(t, 0.38/1.21*0.95, snaps[0].Probabilities["B"], 1e-9)

	closed, err := e.store.FindHistoricalSnapshots(ctx, "closed", 10)
	require.NoError(t, err)
	assert.Empty(t, closed)
}

func TestSnapshotOnce_SkipsResolvedPolls(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, market.DefaultParams())
	e.predict(t, "userX", "A", 0.9, 100)
	_, err := e.resolutions.ResolvePoll(ctx, "poll-1", "A", "admin")
	require.NoError(t, err)

	saved, err := e.snapshots.SnapshotOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, saved)
}

func TestSnapshotRun_StopsOnCancel(t *testing.T) {
	e := newEngine(t, market.DefaultParams())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.snapshots.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
