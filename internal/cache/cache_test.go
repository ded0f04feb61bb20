package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(maxSize, margin int) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.MaxSize = maxSize
	cfg.Margin = margin
	return New(cfg, WithClock(clock.Now)), clock
}

func TestCache_GetBeforeAndAfterExpiry(t *testing.T) {
	c, clock := newTestCache(10, 1)

	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	clock.Advance(time.Minute)

	_, ok = c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate, 0.001)
}

func TestCache_ExpiredEntryPurgedOnSetCleanup(t *testing.T) {
	c, clock := newTestCache(2, 0)

	c.Set("old", 1, time.Second)
	clock.Advance(2 * time.Second)

	_, ok := c.Get("old")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "expired entry stays until cleanup")

	c.Set("a", 2, time.Hour)
	c.Set("b", 3, time.Hour)

	assert.Equal(t, 2, c.Len())
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(0), stats.Evictions)

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestCache_EvictsLeastRecentlyAccessedDownToMargin(t *testing.T) {
	c, _ := newTestCache(4, 2)

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Hour)
	}

	// Touch k0 so k1 becomes the oldest.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k4", 4, time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("k0")
	assert.True(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)
	for _, key := range []string{"k1", "k2", "k3"} {
		_, ok = c.Get(key)
		assert.False(t, ok, key)
	}
	assert.Equal(t, int64(3), c.Stats().Evictions)
}

type newestFirst struct{}

func (newestFirst) Victims(keys []string, n int) []string {
	var out []string
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, keys[i])
	}
	return out
}

func TestCache_CustomEvictionPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	cfg.Margin = 1
	c := New(cfg, WithEvictionPolicy(newestFirst{}))

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)
	c.Set("c", 3, time.Hour)

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(100, 10)

	c.Set(Key(EntitySessions, "org-1", "acc-1", nil), 1, time.Hour)
	c.Set(Key(EntityMatches, "org-1", "acc-1", map[string]string{"status": "pending"}), 2, time.Hour)
	c.Set(Key(EntitySessions, "org-1", "acc-10", nil), 3, time.Hour)
	c.Set(Key(EntityAnalytics, "org-2", "", nil), 4, time.Hour)

	removed := c.Invalidate(ScopePattern("acc-1"))
	assert.Equal(t, 2, removed)

	_, ok := c.Get(Key(EntitySessions, "org-1", "acc-10", nil))
	assert.True(t, ok, "prefix-sharing account must survive")

	c.Set(Key(EntityMatches, "org-1", "acc-10", nil), 5, time.Hour)
	assert.Equal(t, 1, c.Invalidate(EntityPattern(EntityMatches, "org-1")))

	assert.Equal(t, 1, c.Invalidate(OrgPattern("org-1")))
	assert.Equal(t, 0, c.Invalidate(""))
	assert.Equal(t, 1, c.InvalidateAll())
	assert.Equal(t, 0, c.Len())
}

func TestKey_FilterDigest(t *testing.T) {
	a := Key(EntityMatches, "org", "acc", map[string]any{"status": "pending", "limit": 10})
	b := Key(EntityMatches, "org", "acc", map[string]any{"limit": 10, "status": "pending"})
	c := Key(EntityMatches, "org", "acc", map[string]any{"status": "approved"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "accounts:org:o:scope::all", Key(EntityAccounts, "o", "", nil))
}

func TestKey_UnhashableFiltersBypassCache(t *testing.T) {
	first := Key(EntityMatches, "org", "acc", map[string]any{"fn": func() {}})
	second := Key(EntityMatches, "org", "acc", map[string]any{"ch": make(chan int)})
	assert.Equal(t, NoKey, first)
	assert.Equal(t, NoKey, second)

	c := New(DefaultConfig())
	c.Set(first, "stale", time.Hour)
	assert.Equal(t, 0, c.Len())

	_, ok := c.Get(second)
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Sets)
}

func TestCache_TTLTiers(t *testing.T) {
	c := New(Config{MaxSize: 10, Margin: 1, ShortTTL: time.Second, MediumTTL: time.Minute, LongTTL: time.Hour})

	assert.Equal(t, time.Second, c.TTL(EntityTransactions))
	assert.Equal(t, time.Second, c.TTL(EntitySessions))
	assert.Equal(t, time.Minute, c.TTL(EntityAccounts))
	assert.Equal(t, time.Minute, c.TTL(EntityRules))
	assert.Equal(t, time.Hour, c.TTL(EntityAnalytics))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(50, 5)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i%60)
				c.Set(key, i, time.Minute)
				c.Get(key)
				if i%50 == 0 {
					c.Invalidate(fmt.Sprintf("w%d-", w))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
