package verification

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cooldown spaces out repeated actions on the same key.
type Cooldown struct {
	period time.Duration
	cache  *cache.Cache
}

// NewCooldown creates a cooldown of period. A zero period never blocks.
func NewCooldown(period time.Duration) *Cooldown {
	cleanup := 2 * period
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Cooldown{period: period, cache: cache.New(period, cleanup)}
}

// Allow claims key for one period. When the key is still cooling down it
// returns false and the time left.
func (c *Cooldown) Allow(key string) (bool, time.Duration) {
	if c == nil || c.period <= 0 {
		return true, 0
	}
	if err := c.cache.Add(key, struct{}{}, cache.DefaultExpiration); err == nil {
		return true, 0
	}
	_, expires, found := c.cache.GetWithExpiration(key)
	if !found {
		// expired between Add and lookup
		return c.Allow(key)
	}
	return false, time.Until(expires)
}
