// Package cache provides a TTL cache with capacity-bounded eviction for
// repository reads and computed reports. It is never a source of truth.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entity names the kind of data a key caches. It selects the TTL tier.
type Entity string

// Cached entities.
const (
	EntityTransactions Entity = "transactions"
	EntitySessions     Entity = "sessions"
	EntityMatches      Entity = "matches"
	EntityStatements   Entity = "statements"
	EntityAccounts     Entity = "accounts"
	EntityRules        Entity = "rules"
	EntityAnalytics    Entity = "analytics"
)

// Config sizes the cache and its TTL tiers.
type Config struct {
	MaxSize   int
	Margin    int
	ShortTTL  time.Duration
	MediumTTL time.Duration
	LongTTL   time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:   1000,
		Margin:    100,
		ShortTTL:  5 * time.Minute,
		MediumTTL: 30 * time.Minute,
		LongTTL:   2 * time.Hour,
	}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
}

type entry struct {
	expiresAt time.Time
	value     any
}

// Cache is safe for concurrent use. Reads move entries to the front of the
// access order, so Get takes the write lock.
type Cache struct {
	now    func() time.Time
	lru    *simplelru.LRU[string, *entry]
	policy EvictionPolicy
	cfg    Config
	stats  Stats
	mu     sync.RWMutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithEvictionPolicy replaces the default least-recently-used policy.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(c *Cache) { c.policy = p }
}

// New creates a cache. Invalid sizes fall back to the defaults.
func New(cfg Config, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.Margin < 0 || cfg.Margin >= cfg.MaxSize {
		cfg.Margin = cfg.MaxSize / 10
	}
	if cfg.ShortTTL <= 0 {
		cfg.ShortTTL = def.ShortTTL
	}
	if cfg.MediumTTL <= 0 {
		cfg.MediumTTL = def.MediumTTL
	}
	if cfg.LongTTL <= 0 {
		cfg.LongTTL = def.LongTTL
	}

	// One slot of headroom: the cache itself decides what to evict.
	lru, err := simplelru.NewLRU[string, *entry](cfg.MaxSize+1, nil)
	if err != nil {
		panic(err) // size is always positive here
	}

	c := &Cache{
		cfg:    cfg,
		lru:    lru,
		policy: LRUPolicy{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured lifetime for an entity.
func (c *Cache) TTL(e Entity) time.Duration {
	switch e {
	case EntityTransactions, EntitySessions, EntityMatches:
		return c.cfg.ShortTTL
	case EntityAnalytics:
		return c.cfg.LongTTL
	default:
		return c.cfg.MediumTTL
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	if key == NoKey {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok || !c.now().Before(e.expiresAt) {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return e.value, true
}

// Set stores value under key for ttl. When the cache grows past its maximum
// size, expired entries are purged first, then the eviction policy trims the
// cache down to MaxSize - Margin.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if key == NoKey {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.MediumTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, &entry{value: value, expiresAt: c.now().Add(ttl)})
	c.stats.Sets++

	if c.lru.Len() > c.cfg.MaxSize {
		c.cleanup()
	}
}

// cleanup must be called with the write lock held.
func (c *Cache) cleanup() {
	now := c.now()
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && !now.Before(e.expiresAt) {
			c.lru.Remove(key)
			c.stats.Expirations++
		}
	}

	target := c.cfg.MaxSize - c.cfg.Margin
	excess := c.lru.Len() - target
	if c.lru.Len() <= c.cfg.MaxSize || excess <= 0 {
		return
	}

	for _, key := range c.policy.Victims(c.lru.Keys(), excess) {
		if c.lru.Remove(key) {
			c.stats.Evictions++
		}
	}
}

// Invalidate removes every key containing pattern and returns how many were removed.
func (c *Cache) Invalidate(pattern string) int {
	if pattern == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.Contains(key, pattern) && c.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// InvalidateAll empties the cache and returns how many entries were dropped.
func (c *Cache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lru.Len()
	c.lru.Purge()
	return n
}

// Len reports the number of stored entries, including expired ones not yet purged.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Size = c.lru.Len()
	s.MaxSize = c.cfg.MaxSize
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}
