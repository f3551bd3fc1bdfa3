package domain

import (
	"context"
	"time"
)

// OddsCache holds derived odds. Entries are never authoritative and can be
// dropped at any time.
type OddsCache interface {
	Get(ctx context.Context, pollID string) (MarketOdds, error)
	Set(ctx context.Context, odds MarketOdds) error
	Invalidate(ctx context.Context, pollID string) error
}

// RateLimiter provides per-key rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub fan-out of market events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Channel names used on the SignalBus.
const (
	ChannelResolutions = "resolutions"
	channelOddsPrefix  = "odds:"
	ChannelOddsPattern = channelOddsPrefix + "*"
)

// OddsChannel returns the channel odds updates for pollID are published on.
func OddsChannel(pollID string) string {
	return channelOddsPrefix + pollID
}
