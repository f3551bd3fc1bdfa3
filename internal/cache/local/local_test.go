package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

func TestOddsCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewOddsCache(time.Minute)
	c.now = func() time.Time { return now }

	_, err := c.Get(ctx, "poll-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.Set(ctx, domain.MarketOdds{PollID: "poll-1", Options: []domain.OptionOdds{{OptionID: "A"}}}))
	got, err := c.Get(ctx, "poll-1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Options[0].OptionID)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "poll-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOddsCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewOddsCache(time.Hour)
	require.NoError(t, c.Set(ctx, domain.MarketOdds{PollID: "poll-1"}))
	require.NoError(t, c.Invalidate(ctx, "poll-1"))
	_, err := c.Get(ctx, "poll-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter_Burst(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "k", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBus_PatternDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus()

	odds, err := bus.Subscribe(ctx, domain.ChannelOddsPattern)
	require.NoError(t, err)
	res, err := bus.Subscribe(ctx, domain.ChannelResolutions)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.OddsChannel("poll-1"), []byte("o1")))
	require.NoError(t, bus.Publish(ctx, domain.ChannelResolutions, []byte("r1")))

	assert.Equal(t, []byte("o1"), receive(t, odds))
	assert.Equal(t, []byte("r1"), receive(t, res))
	select {
	case msg := <-odds:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-odds
		return !open
	}, time.Second, 10*time.Millisecond)
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}
