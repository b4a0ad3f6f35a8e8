package reconciliation

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Derived(t *testing.T) {
	cache := NewCache()
	var calls atomic.Int32
	compute := func() DerivedQuantities {
		calls.Add(1)
		return DerivedQuantities{ItemKey: "A", ClosingStock: dec(7)}
	}

	t.Run("computes once per generation", func(t *testing.T) {
		gen := cache.Generation()
		first := cache.Derived(gen, "A", compute)
		second := cache.Derived(gen, "A", compute)

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), calls.Load())
		stats := cache.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
		assert.Equal(t, 1, stats.DerivedItems)
	})

	t.Run("invalidate drops every entry", func(t *testing.T) {
		gen := cache.Invalidate()
		assert.Equal(t, 0, cache.Stats().DerivedItems)

		cache.Derived(gen, "A", compute)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("stale generations are neither read nor stored", func(t *testing.T) {
		stale := cache.Generation()
		cache.Invalidate()

		cache.Derived(stale, "B", compute)
		cache.Derived(stale, "B", compute)
		assert.Equal(t, int32(4), calls.Load())
		assert.Equal(t, 0, cache.Stats().DerivedItems)
	})
}

func TestCache_Lines(t *testing.T) {
	cache := NewCache()
	gen := cache.Generation()
	result := AllocationResult{BatchRef: "R-1", ItemKey: "A", LineRef: "1", AllocatedAmount: dec(3)}

	cache.StoreLines(gen, []AllocationResult{result})
	got, ok := cache.Line(result.Key())
	require.True(t, ok)
	assert.Equal(t, result, got)
	assert.Equal(t, 1, cache.Stats().Lines)

	duplicate := result
	duplicate.AllocatedAmount = dec(9)
	cache.StoreLines(gen, []AllocationResult{duplicate})
	got, _ = cache.Line(result.Key())
	assertDecimal(t, 3, got.AllocatedAmount, "the first line stored under a key is kept")

	cache.Invalidate()
	_, ok = cache.Line(result.Key())
	assert.False(t, ok)

	cache.StoreLines(gen, []AllocationResult{result})
	assert.Zero(t, cache.Stats().Lines, "lines from an old generation must be dropped")
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gen := cache.Generation()
				cache.Derived(gen, "A", func() DerivedQuantities {
					return DerivedQuantities{ItemKey: "A"}
				})
				if i == 0 && j%10 == 0 {
					cache.Invalidate()
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint64(10), cache.Generation())
}
