package tenancy

import (
	"sync"
	"time"
)

// expiryMode selects what a cache TTL is measured from.
type expiryMode int

const (
	// expireAfterWrite ages entries from when they were stored.
	expireAfterWrite expiryMode = iota
	// expireAfterAccess ages entries from their last use.
	expireAfterAccess
)

// CacheStats is a point-in-time view of a cache.
type CacheStats struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
	lastUsed time.Time
}

type evicted[V any] struct {
	key   string
	value V
}

// boundedCache is a mutex-guarded map with a size limit and a TTL.
// When full, the least recently used entry is evicted. onEvict runs outside
// the lock for every entry that leaves the cache.
//
// Remove bumps a per-key generation. A caller that loads a value outside the
// lock reads Generation first and stores with SetIfCurrent or AddIfCurrent,
// so a value loaded before a Remove is never cached after it.
type boundedCache[V any] struct {
	mu          sync.Mutex
	entries     map[string]*cacheEntry[V]
	generations map[string]uint64
	ttl         time.Duration
	maxEntries  int
	mode        expiryMode
	now         func() time.Time
	onEvict     func(key string, value V)

	hits      uint64
	misses    uint64
	evictions uint64
}

func newBoundedCache[V any](ttl time.Duration, maxEntries int, mode expiryMode, onEvict func(string, V)) *boundedCache[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &boundedCache[V]{
		entries:     make(map[string]*cacheEntry[V]),
		generations: make(map[string]uint64),
		ttl:         ttl,
		maxEntries:  maxEntries,
		mode:        mode,
		now:         time.Now,
		onEvict:     onEvict,
	}
}

// expired reports whether e is past its TTL. Caller must hold c.mu.
func (c *boundedCache[V]) expired(e *cacheEntry[V], now time.Time) bool {
	if c.ttl <= 0 {
		return false
	}
	since := e.storedAt
	if c.mode == expireAfterAccess {
		since = e.lastUsed
	}
	return now.Sub(since) > c.ttl
}

// Get returns a live entry and marks it used.
func (c *boundedCache[V]) Get(key string) (V, bool) {
	var zero V
	var gone []evicted[V]

	c.mu.Lock()
	now := c.now()
	e, ok := c.entries[key]
	if ok && c.expired(e, now) {
		delete(c.entries, key)
		c.evictions++
		gone = append(gone, evicted[V]{key, e.value})
		ok = false
	}
	if !ok {
		c.misses++
		c.mu.Unlock()
		c.notify(gone)
		return zero, false
	}
	c.hits++
	e.lastUsed = now
	v := e.value
	c.mu.Unlock()
	return v, true
}

// Set stores value under key, replacing any previous entry.
func (c *boundedCache[V]) Set(key string, value V) {
	c.mu.Lock()
	gone := c.store(key, value)
	c.mu.Unlock()
	c.notify(gone)
}

// store writes the entry and returns what it displaced. Caller must hold c.mu.
func (c *boundedCache[V]) store(key string, value V) []evicted[V] {
	now := c.now()
	var gone []evicted[V]
	if old, ok := c.entries[key]; ok {
		gone = append(gone, evicted[V]{key, old.value})
	} else {
		gone = c.makeRoom(now)
	}
	c.entries[key] = &cacheEntry[V]{value: value, storedAt: now, lastUsed: now}
	return gone
}

// Generation returns the number of times key has been removed.
func (c *boundedCache[V]) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[key]
}

// SetIfCurrent stores value only if key is still at generation gen.
func (c *boundedCache[V]) SetIfCurrent(key string, value V, gen uint64) bool {
	c.mu.Lock()
	if c.generations[key] != gen {
		c.mu.Unlock()
		return false
	}
	gone := c.store(key, value)
	c.mu.Unlock()
	c.notify(gone)
	return true
}

// AddIfCurrent stores value unless a live entry already exists, in which case
// the existing value is returned with loaded set. Nothing is stored and stale
// is set when key has been removed since generation gen.
func (c *boundedCache[V]) AddIfCurrent(key string, value V, gen uint64) (actual V, loaded, stale bool) {
	c.mu.Lock()
	if c.generations[key] != gen {
		c.mu.Unlock()
		var zero V
		return zero, false, true
	}
	now := c.now()
	var gone []evicted[V]
	if e, ok := c.entries[key]; ok {
		if !c.expired(e, now) {
			e.lastUsed = now
			v := e.value
			c.mu.Unlock()
			return v, true, false
		}
		delete(c.entries, key)
		c.evictions++
		gone = append(gone, evicted[V]{key, e.value})
	}
	gone = append(gone, c.makeRoom(now)...)
	c.entries[key] = &cacheEntry[V]{value: value, storedAt: now, lastUsed: now}
	c.mu.Unlock()
	c.notify(gone)
	return value, false, false
}

// Remove deletes key, bumps its generation and reports whether it was present.
func (c *boundedCache[V]) Remove(key string) bool {
	c.mu.Lock()
	c.generations[key]++
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if ok {
		c.notify([]evicted[V]{{key, e.value}})
	}
	return ok
}

// Purge removes every expired entry and returns how many were removed.
func (c *boundedCache[V]) Purge() int {
	c.mu.Lock()
	now := c.now()
	var gone []evicted[V]
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			gone = append(gone, evicted[V]{key, e.value})
		}
	}
	c.evictions += uint64(len(gone))
	c.mu.Unlock()
	c.notify(gone)
	return len(gone)
}

// Clear removes every entry.
func (c *boundedCache[V]) Clear() {
	c.mu.Lock()
	gone := make([]evicted[V], 0, len(c.entries))
	for key, e := range c.entries {
		gone = append(gone, evicted[V]{key, e.value})
	}
	c.entries = make(map[string]*cacheEntry[V])
	c.mu.Unlock()
	c.notify(gone)
}

// Stats returns counters and the current size.
func (c *boundedCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// makeRoom evicts the least recently used entry while the cache is full.
// Caller must hold c.mu.
func (c *boundedCache[V]) makeRoom(now time.Time) []evicted[V] {
	var gone []evicted[V]
	for len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldest *cacheEntry[V]
		for key, e := range c.entries {
			if c.expired(e, now) {
				oldestKey, oldest = key, e
				break
			}
			if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
				oldestKey, oldest = key, e
			}
		}
		delete(c.entries, oldestKey)
		c.evictions++
		gone = append(gone, evicted[V]{oldestKey, oldest.value})
	}
	return gone
}

func (c *boundedCache[V]) notify(gone []evicted[V]) {
	if c.onEvict == nil {
		return
	}
	for _, g := range gone {
		c.onEvict(g.key, g.value)
	}
}
