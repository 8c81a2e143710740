// Package mediacache maps media references to their most recent
// resolution, with per-entry expiry, LRU bounding and eager invalidation.
package mediacache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/famomatic/streamgate/internal/media"
	"github.com/famomatic/streamgate/internal/metrics"
)

// Config configures a Cache.
type Config struct {
	// MaxEntries bounds the cache; 0 means 256.
	MaxEntries int
	// SafetyMargin is subtracted from each resolution's recorded expiry
	// so cached URLs are never served right at the edge. Default 2m.
	SafetyMargin time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	res        *media.Resolution
	storedAt   time.Time
	lastAccess time.Time
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 256
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{cfg: cfg, entries: make(map[string]*entry)}
}

// Get returns the live resolution for ref, or ok=false on miss. Expiry is
// checked lazily: an expired entry is removed and reported as a miss.
func (c *Cache) Get(ref media.Reference) (*media.Resolution, bool) {
	key := ref.Key()
	now := c.cfg.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.miss()
		return nil, false
	}
	if e.res.ExpiredBy(now, c.cfg.SafetyMargin) {
		delete(c.entries, key)
		c.miss()
		return nil, false
	}
	e.lastAccess = now
	c.hit()
	return e.res, true
}

// Put stores a fresh resolution for ref, replacing any previous entry so
// at most one resolution is ever authoritative per reference.
func (c *Cache) Put(ref media.Reference, res *media.Resolution) {
	now := c.cfg.Now()
	if res == nil || res.ExpiredBy(now, c.cfg.SafetyMargin) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[ref.Key()] = &entry{res: res, storedAt: now, lastAccess: now}
	c.evictLRULocked()
}

// Invalidate removes ref's entry eagerly. Idempotent.
func (c *Cache) Invalidate(ref media.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[ref.Key()]; !ok {
		return
	}
	delete(c.entries, ref.Key())
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheInvalidated.Inc()
	}
	c.cfg.Logger.Debug().Str("ref", ref.Key()).Msg("cache entry invalidated")
}

// Sweep removes expired entries and returns how many were dropped. Lazy
// expiry on Get is sufficient for correctness; Sweep only bounds memory
// held by never-requested-again entries.
func (c *Cache) Sweep() int {
	now := c.cfg.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, e := range c.entries {
		if e.res.ExpiredBy(now, c.cfg.SafetyMargin) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictLRULocked() {
	for len(c.entries) > c.cfg.MaxEntries {
		var oldestKey string
		var oldest time.Time
		first := true
		for key, e := range c.entries {
			candidate := e.lastAccess
			if candidate.IsZero() {
				candidate = e.storedAt
			}
			if first || candidate.Before(oldest) {
				first = false
				oldestKey = key
				oldest = candidate
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) hit() {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheHits.Inc()
	}
}

func (c *Cache) miss() {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheMisses.Inc()
	}
}
