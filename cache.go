package layerfs

import (
	"sync"
	"sync/atomic"
	"time"
)

// resolveCache remembers which layer answered a resolution, plus negative
// results, so hot lookups skip the lineage walk. Entries are tagged with a
// generation counter that any allocation, reclamation, or layer lifecycle
// change bumps, which invalidates the whole cache at once; within a single
// generation the graph cannot have changed, so a hit is always consistent
// with the shadowing rule.
type resolveCache struct {
	mu         sync.RWMutex
	entries    map[string]*resolveEntry
	gen        atomic.Uint64
	ttl        time.Duration
	maxEntries int
	enabled    bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// resolveEntry caches the outcome of one resolution. A nil layer marks a
// negative entry (path known absent in the whole lineage).
type resolveEntry struct {
	layer   *Layer
	gen     uint64
	expires time.Time
}

// newResolveCache creates a cache with the specified configuration
func newResolveCache(enabled bool, ttl time.Duration, maxEntries int) *resolveCache {
	if !enabled {
		return &resolveCache{enabled: false}
	}
	return &resolveCache{
		entries:    make(map[string]*resolveEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		enabled:    true,
	}
}

// bump invalidates every cached entry by advancing the generation.
func (c *resolveCache) bump() {
	if !c.enabled {
		return
	}
	c.gen.Add(1)
}

// lookup retrieves a cached resolution if it is current and not expired.
func (c *resolveCache) lookup(key string) (layer *Layer, negative, ok bool) {
	if !c.enabled {
		return nil, false, false
	}

	c.mu.RLock()
	entry := c.entries[key]
	c.mu.RUnlock()

	if entry == nil || entry.gen != c.gen.Load() ||
		(c.ttl > 0 && time.Now().After(entry.expires)) {
		c.misses.Add(1)
		return nil, false, false
	}

	c.hits.Add(1)
	return entry.layer, entry.layer == nil, true
}

// generation returns the current cache generation. Resolvers capture it
// before walking and tag their stores with it, so a result computed against
// an older graph is never served.
func (c *resolveCache) generation() uint64 {
	if !c.enabled {
		return 0
	}
	return c.gen.Load()
}

// put stores the layer that answered a resolution computed at generation gen.
func (c *resolveCache) put(key string, layer *Layer, gen uint64) {
	c.store(key, layer, gen)
}

// putNegative marks a path as absent across the lineage as of generation gen.
func (c *resolveCache) putNegative(key string, gen uint64) {
	c.store(key, nil, gen)
}

func (c *resolveCache) store(key string, layer *Layer, gen uint64) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[key] = &resolveEntry{
		layer:   layer,
		gen:     gen,
		expires: time.Now().Add(c.ttl),
	}
}

// evictOldest removes the entry closest to expiry. Called with mu held.
func (c *resolveCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.expires.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expires
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// clear removes all cache entries
func (c *resolveCache) clear() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]*resolveEntry)
	c.mu.Unlock()
}

// Stats returns cache statistics
func (c *resolveCache) Stats() CacheStats {
	if !c.enabled {
		return CacheStats{Enabled: false}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Enabled:    true,
		Entries:    len(c.entries),
		MaxEntries: c.maxEntries,
		TTL:        c.ttl,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
	}
}

// CacheStats contains resolve-cache statistics
type CacheStats struct {
	Enabled    bool
	Entries    int
	MaxEntries int
	TTL        time.Duration
	Hits       uint64
	Misses     uint64
}
