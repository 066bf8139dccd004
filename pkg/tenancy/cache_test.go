package tenancy

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for cache and router tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(ttl time.Duration, max int, mode expiryMode, clock *fakeClock) (*boundedCache[int], *[]string) {
	var evictedKeys []string
	c := newBoundedCache[int](ttl, max, mode, func(key string, _ int) {
		evictedKeys = append(evictedKeys, key)
	})
	c.now = clock.Now
	return c, &evictedKeys
}

func TestBoundedCache_GetSet(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(time.Minute, 10, expireAfterWrite, clock)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	stats := c.Stats()
	assert.Equal(t, CacheStats{Size: 1, Hits: 1, Misses: 1}, stats)
}

func TestBoundedCache_ExpireAfterWrite(t *testing.T) {
	clock := newFakeClock()
	c, evictedKeys := newTestCache(time.Minute, 10, expireAfterWrite, clock)

	c.Set("a", 1)
	clock.Advance(40 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	// Reads do not extend a write-aged entry.
	clock.Advance(40 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, *evictedKeys)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestBoundedCache_ExpireAfterAccess(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(time.Minute, 10, expireAfterAccess, clock)

	c.Set("a", 1)
	for i := 0; i < 5; i++ {
		clock.Advance(40 * time.Second)
		_, ok := c.Get("a")
		require.True(t, ok, "iteration %d", i)
	}

	clock.Advance(61 * time.Second)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestBoundedCache_EvictsLeastRecentlyUsed(t *testing.T) {
	clock := newFakeClock()
	c, evictedKeys := newTestCache(time.Hour, 2, expireAfterWrite, clock)

	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)
	_, _ = c.Get("a")
	clock.Advance(time.Second)
	c.Set("c", 3)

	assert.Equal(t, []string{"b"}, *evictedKeys)
	assert.Equal(t, 2, c.Stats().Size)
	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestBoundedCache_SetReplacesAndNotifies(t *testing.T) {
	clock := newFakeClock()
	c, evictedKeys := newTestCache(time.Hour, 1, expireAfterWrite, clock)

	c.Set("a", 1)
	c.Set("a", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, []string{"a"}, *evictedKeys)
}

func TestBoundedCache_AddIfCurrent(t *testing.T) {
	clock := newFakeClock()
	c, evictedKeys := newTestCache(time.Minute, 10, expireAfterWrite, clock)

	actual, loaded, stale := c.AddIfCurrent("a", 1, 0)
	assert.False(t, loaded)
	assert.False(t, stale)
	assert.Equal(t, 1, actual)

	actual, loaded, _ = c.AddIfCurrent("a", 2, 0)
	assert.True(t, loaded)
	assert.Equal(t, 1, actual)
	assert.Empty(t, *evictedKeys)

	clock.Advance(2 * time.Minute)
	actual, loaded, _ = c.AddIfCurrent("a", 3, 0)
	assert.False(t, loaded)
	assert.Equal(t, 3, actual)
	assert.Equal(t, []string{"a"}, *evictedKeys)
}

func TestBoundedCache_RemoveBumpsGeneration(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(time.Minute, 10, expireAfterWrite, clock)

	gen := c.Generation("a")
	assert.False(t, c.Remove("a"), "removing a missing key still bumps its generation")
	assert.Equal(t, gen+1, c.Generation("a"))
	assert.Zero(t, c.Generation("b"))

	_, loaded, stale := c.AddIfCurrent("a", 1, gen)
	assert.False(t, loaded)
	assert.True(t, stale)
	assert.False(t, c.SetIfCurrent("a", 1, gen))
	assert.Equal(t, 0, c.Stats().Size)

	assert.True(t, c.SetIfCurrent("a", 2, c.Generation("a")))
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	// Expiry, eviction and Clear are not invalidations.
	c.Clear()
	assert.Equal(t, gen+1, c.Generation("a"))
}

func TestBoundedCache_RemovePurgeClear(t *testing.T) {
	clock := newFakeClock()
	c, evictedKeys := newTestCache(time.Minute, 10, expireAfterWrite, clock)

	c.Set("a", 1)
	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))

	c.Set("b", 2)
	clock.Advance(30 * time.Second)
	c.Set("c", 3)
	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Stats().Size)

	c.Set("d", 4)
	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)

	got := append([]string(nil), *evictedKeys...)
	sort.Strings(got)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestBoundedCache_ConcurrentAccess(t *testing.T) {
	c := newBoundedCache[int](time.Minute, 50, expireAfterAccess, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := string(rune('a' + (i+g)%26))
				c.Set(key, i)
				c.Get(key)
				c.AddIfCurrent(key, i, c.Generation(key))
				if i%50 == 0 {
					c.Remove(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Size, 26)
}
