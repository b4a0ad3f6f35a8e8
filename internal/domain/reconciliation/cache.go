package reconciliation

import (
	"sync"
	"sync/atomic"
)

// LineKey identifies one memoized allocation line
type LineKey struct {
	BatchRef string
	ItemKey  string
	LineRef  string
}

// NewLineKey builds the key of a line from the refs a caller knows
func NewLineKey(batchRef string, item ItemRef, lineRef string) LineKey {
	return LineKey{BatchRef: batchRef, ItemKey: item.Key(), LineRef: lineRef}
}

// CacheStats reports cache usage
type CacheStats struct {
	Generation   uint64 `json:"generation"`
	DerivedItems int    `json:"derived_items"`
	Lines        int    `json:"lines"`
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
}

// Cache memoizes derived quantities and allocation lines for one snapshot
// generation. Entries are filled lazily and dropped wholesale on Invalidate.
type Cache struct {
	mu         sync.RWMutex
	generation uint64
	derived    map[string]DerivedQuantities
	lines      map[LineKey]AllocationResult
	hits       atomic.Int64
	misses     atomic.Int64
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{
		derived: make(map[string]DerivedQuantities),
		lines:   make(map[LineKey]AllocationResult),
	}
}

// Derived returns the memoized quantities for an item match key, computing
// them on a miss. Callers pass the generation their snapshot belongs to;
// values for an older generation are computed but never read from or written
// to the cache.
func (c *Cache) Derived(gen uint64, matchKey string, compute func() DerivedQuantities) DerivedQuantities {
	c.mu.RLock()
	current := c.generation == gen
	d, ok := c.derived[matchKey]
	c.mu.RUnlock()
	if current && ok {
		c.hits.Add(1)
		return d
	}
	c.misses.Add(1)

	d = compute()
	if !current {
		return d
	}

	c.mu.Lock()
	if c.generation == gen {
		c.derived[matchKey] = d
	}
	c.mu.Unlock()
	return d
}

// Line returns a memoized allocation line
func (c *Cache) Line(key LineKey) (AllocationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.lines[key]
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return r, ok
}

// StoreLines memoizes allocation results computed at the given generation.
// When two results share a key the first one processed is kept.
func (c *Cache) StoreLines(gen uint64, results []AllocationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	for _, r := range results {
		if _, ok := c.lines[r.Key()]; !ok {
			c.lines[r.Key()] = r
		}
	}
}

// Invalidate drops every entry and returns the new generation
func (c *Cache) Invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.derived = make(map[string]DerivedQuantities)
	c.lines = make(map[LineKey]AllocationResult)
	return c.generation
}

// Generation returns the current generation
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Stats returns a point-in-time view of the cache
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Generation:   c.generation,
		DerivedItems: len(c.derived),
		Lines:        len(c.lines),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
	}
}
