package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

// DefaultOddsTTL bounds how long a cached odds entry can outlive a missed
// invalidation.
const DefaultOddsTTL = 5 * time.Minute

// OddsCache implements domain.OddsCache with one JSON string per poll at
// key "{namespace}:odds:{pollID}".
type OddsCache struct {
	c   *Client
	ttl time.Duration
}

// NewOddsCache creates an OddsCache backed by the given Client. A
// non-positive ttl selects DefaultOddsTTL.
func NewOddsCache(c *Client, ttl time.Duration) *OddsCache {
	if ttl <= 0 {
		ttl = DefaultOddsTTL
	}
	return &OddsCache{c: c, ttl: ttl}
}

func (oc *OddsCache) oddsKey(pollID string) string { return oc.c.key("odds:" + pollID) }

// Get returns the cached odds for a poll, or domain.ErrNotFound on a miss.
func (oc *OddsCache) Get(ctx context.Context, pollID string) (domain.MarketOdds, error) {
	data, err := oc.c.rdb.Get(ctx, oc.oddsKey(pollID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketOdds{}, domain.ErrNotFound
		}
		return domain.MarketOdds{}, fmt.Errorf("redis: get odds %s: %w", pollID, err)
	}
	var odds domain.MarketOdds
	if err := json.Unmarshal(data, &odds); err != nil {
		return domain.MarketOdds{}, fmt.Errorf("redis: unmarshal odds %s: %w", pollID, err)
	}
	return odds, nil
}

// Set stores the odds of a poll with the cache TTL.
func (oc *OddsCache) Set(ctx context.Context, odds domain.MarketOdds) error {
	data, err := json.Marshal(odds)
	if err != nil {
		return fmt.Errorf("redis: marshal odds %s: %w", odds.PollID, err)
	}
	if err := oc.c.rdb.Set(ctx, oc.oddsKey(odds.PollID), data, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set odds %s: %w", odds.PollID, err)
	}
	return nil
}

// Invalidate drops the cached odds of a poll.
func (oc *OddsCache) Invalidate(ctx context.Context, pollID string) error {
	if err := oc.c.rdb.Del(ctx, oc.oddsKey(pollID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate odds %s: %w", pollID, err)
	}
	return nil
}

var _ domain.OddsCache = (*OddsCache)(nil)
