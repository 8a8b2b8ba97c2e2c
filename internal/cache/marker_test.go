package cache

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerCache_NewMarkerCache(t *testing.T) {
	cache := NewMarkerCache()

	require.NotNil(t, cache)
	assert.NotNil(t, cache.markers)
	assert.Equal(t, 0, cache.Len())
}

func TestMarkerCache_BindAndLookup(t *testing.T) {
	cache := NewMarkerCache()

	cache.Bind("marker-hiro", "opera-house")

	id, ok := cache.Lookup("marker-hiro")
	require.True(t, ok, "expected to find marker-hiro")
	assert.Equal(t, "opera-house", id)
}

func TestMarkerCache_Lookup_NotFound(t *testing.T) {
	cache := NewMarkerCache()

	_, ok := cache.Lookup("nonexistent")
	assert.False(t, ok, "expected not to find nonexistent marker")
}

func TestMarkerCache_Unbind(t *testing.T) {
	cache := NewMarkerCache()

	cache.Bind("m1", "poi-1")
	cache.Bind("m2", "poi-2")

	cache.Unbind("m1")

	_, ok := cache.Lookup("m1")
	assert.False(t, ok, "expected not to find m1 after unbind")

	_, ok = cache.Lookup("m2")
	assert.True(t, ok, "expected m2 to still exist")

	// unbinding twice is harmless
	cache.Unbind("m1")
	assert.Equal(t, 1, cache.Len())
}

func TestMarkerCache_Reset(t *testing.T) {
	cache := NewMarkerCache()

	cache.Bind("m1", "poi-1")
	cache.Bind("m2", "poi-2")
	cache.Bind("m3", "poi-3")

	cache.Reset()
	assert.Equal(t, 0, cache.Len())

	cache.Bind("m4", "poi-4")
	_, ok := cache.Lookup("m4")
	assert.True(t, ok, "expected to find m4 after reset")
}

func TestMarkerCache_Rebind(t *testing.T) {
	cache := NewMarkerCache()

	cache.Bind("m1", "poi-1")
	cache.Bind("m1", "poi-9")

	id, ok := cache.Lookup("m1")
	require.True(t, ok)
	assert.Equal(t, "poi-9", id)
}

func TestMarkerCache_ConcurrentReadWrite(t *testing.T) {
	cache := NewMarkerCache()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)

		go func(id int) {
			defer wg.Done()
			cache.Bind("marker", strconv.Itoa(id))
		}(i)

		go func() {
			defer wg.Done()
			cache.Lookup("marker")
		}()

		go func() {
			defer wg.Done()
			cache.Unbind("marker")
		}()
	}

	wg.Wait()
}
