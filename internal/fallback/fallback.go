// Package fallback implements the degraded-mode substitute store of
// spec.md section 4.4: a named-key cache of last-known-good outputs with
// a time-to-live, stale-read support, hit counts, and pre-registered
// defaults for critical steps.
//
// Generalizes the teacher's modules/cache/memory.go cache-item map (a
// plain map[string]cacheItem with expiry checks under a mutex) by adding
// hit-count bookkeeping and the stale/allow-expired read mode the
// orchestrator's fallback strategy depends on.
package fallback

import (
	"sync"
	"time"

	"github.com/digitalbeing/core/internal/logging"
)

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration // zero means never expire
	hitCount  int
}

func (e *entry) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return now.After(e.createdAt.Add(e.ttl))
}

// Cache is the fallback store.
type Cache struct {
	logger logging.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	defaults map[string]any
}

// New constructs an empty Cache.
func New(logger logging.Logger) *Cache {
	return &Cache{
		logger:   logger,
		entries:  make(map[string]*entry),
		defaults: make(map[string]any),
	}
}

// Set replaces any prior entry for key. A zero ttl means the entry never
// expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, createdAt: time.Now(), ttl: ttl}
}

// SetDefault pre-registers a default value used by Get when neither a
// fresh nor a (when allowed) stale entry exists.
func (c *Cache) SetDefault(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults[key] = value
}

// Get retrieves key. On a hit before expiry it increments the hit count
// and returns (value, true). On a hit after expiry, it logs a warning and
// returns the stale value when allowExpired is true; otherwise it falls
// through to def, then the registered default, whichever is present.
func (c *Cache) Get(key string, def any, allowExpired bool) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if found {
		now := time.Now()
		if !e.expired(now) {
			e.hitCount++
			return e.value, true
		}
		if allowExpired {
			if c.logger != nil {
				c.logger.Warn("fallback: returning stale entry", "key", key)
			}
			e.hitCount++
			return e.value, true
		}
	}

	if def != nil {
		return def, true
	}
	if dv, ok := c.defaults[key]; ok {
		return dv, true
	}
	return nil, false
}

// HitCount reports the number of successful reads for key.
func (c *Cache) HitCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.hitCount
	}
	return 0
}

// CleanupExpired prunes all entries past their TTL and returns how many
// were removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
