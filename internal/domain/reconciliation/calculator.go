package reconciliation

// Calculator answers reconciliation queries over one snapshot, memoizing
// through a shared cache. It is the SupplyProvider handed to the allocator.
type Calculator struct {
	engine     *FormulaEngine
	snapshot   *Snapshot
	cache      *Cache
	generation uint64
}

var _ SupplyProvider = (*Calculator)(nil)

// NewCalculator binds a snapshot to the cache's current generation.
// A nil cache gives the calculator a private one.
func NewCalculator(engine *FormulaEngine, snapshot *Snapshot, cache *Cache) *Calculator {
	if cache == nil {
		cache = NewCache()
	}
	if snapshot == nil {
		snapshot = EmptySnapshot()
	}
	return &Calculator{
		engine:     engine,
		snapshot:   snapshot,
		cache:      cache,
		generation: cache.Generation(),
	}
}

// Snapshot returns the bound snapshot
func (c *Calculator) Snapshot() *Snapshot {
	return c.snapshot
}

// Generation returns the cache generation the snapshot belongs to
func (c *Calculator) Generation() uint64 {
	return c.generation
}

// Stale returns true once the cache has moved past the calculator's generation
func (c *Calculator) Stale() bool {
	return c.cache.Generation() != c.generation
}

// DerivedQuantities returns the stage quantities of an item
func (c *Calculator) DerivedQuantities(item ItemRef) DerivedQuantities {
	d := c.cache.Derived(c.generation, item.MatchKey(), func() DerivedQuantities {
		return c.engine.Derive(c.snapshot, item)
	})
	d.Item = item
	return d
}

// Supply implements SupplyProvider with the item's closing stock
func (c *Calculator) Supply(item ItemRef) Supply {
	d := c.DerivedQuantities(item)
	return Supply{
		Available: d.ClosingStock,
		Incoming:  d.IncomingPurchaseQty,
		Matched:   d.Matched,
	}
}

// Allocate runs the sequential allocator against this calculator's supply
func (c *Calculator) Allocate(batches []RequestBatch) []AllocationResult {
	return Allocate(batches, c)
}

// AllocateStored allocates the stored request batches and memoizes every
// resulting line for Line.
func (c *Calculator) AllocateStored(batches []RequestBatch) []AllocationResult {
	results := Allocate(batches, c)
	c.cache.StoreLines(c.generation, results)
	return results
}

// Line returns a memoized line of the stored allocation
func (c *Calculator) Line(batchRef string, item ItemRef, lineRef string) (AllocationResult, bool) {
	if c.Stale() {
		return AllocationResult{}, false
	}
	return c.cache.Line(NewLineKey(batchRef, item, lineRef))
}
