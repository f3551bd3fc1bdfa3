// Package local provides single-process implementations of the cache, rate
// limiter and signal bus interfaces, used when no Redis is configured.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pollmarket/internal/domain"
)

type oddsEntry struct {
	odds      domain.MarketOdds
	expiresAt time.Time
}

// OddsCache is an in-memory domain.OddsCache with a fixed TTL.
type OddsCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]oddsEntry
	now     func() time.Time
}

// NewOddsCache returns an OddsCache whose entries expire after ttl.
func NewOddsCache(ttl time.Duration) *OddsCache {
	return &OddsCache{
		ttl:     ttl,
		entries: make(map[string]oddsEntry),
		now:     time.Now,
	}
}

// Get returns the cached odds, or domain.ErrNotFound when absent or expired.
func (c *OddsCache) Get(_ context.Context, pollID string) (domain.MarketOdds, error) {
	c.mu.RLock()
	e, ok := c.entries[pollID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return domain.MarketOdds{}, domain.ErrNotFound
	}
	return e.odds, nil
}

// Set stores odds for their poll.
func (c *OddsCache) Set(_ context.Context, odds domain.MarketOdds) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[odds.PollID] = oddsEntry{odds: odds, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Invalidate drops the cached odds of a poll.
func (c *OddsCache) Invalidate(_ context.Context, pollID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, pollID)
	return nil
}

var _ domain.OddsCache = (*OddsCache)(nil)
