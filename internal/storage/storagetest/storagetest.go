// Package storagetest runs the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/eternity-ar/arcoord/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises b, which must be initialized and empty.
func Run(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		v, ok, err := b.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("SetGetReplace", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "eternity.lastPosition", []byte(`{"latitude":-33.8568,"longitude":151.2153}`)))
		v, ok, err := b.Get(ctx, "eternity.lastPosition")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"latitude":-33.8568,"longitude":151.2153}`, string(v))

		require.NoError(t, b.Set(ctx, "eternity.lastPosition", []byte(`{"latitude":1,"longitude":2}`)))
		v, _, err = b.Get(ctx, "eternity.lastPosition")
		require.NoError(t, err)
		assert.JSONEq(t, `{"latitude":1,"longitude":2}`, string(v))
	})

	t.Run("RejectsNonJSON", func(t *testing.T) {
		err := b.Set(ctx, "bad", []byte("not json"))
		assert.ErrorIs(t, err, storage.ErrInvalidValue)
		_, ok, _ := b.Get(ctx, "bad")
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "gone", []byte(`true`)))
		require.NoError(t, b.Delete(ctx, "gone"))
		_, ok, err := b.Get(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, b.Delete(ctx, "never-set"))
	})

	t.Run("Counters", func(t *testing.T) {
		n, err := b.IncrementCounter(ctx, "views", "opera", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = b.IncrementCounter(ctx, "views", "opera", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		_, err = b.IncrementCounter(ctx, "views", "bridge", 1)
		require.NoError(t, err)
		_, err = b.IncrementCounter(ctx, "plays", "opera", 5)
		require.NoError(t, err)

		views, err := b.Counters(ctx, "views")
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"opera": 3, "bridge": 1}, views)

		empty, err := b.Counters(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := b.IncrementCounter(ctx, "visits", fmt.Sprintf("page-%d", i%2), 1)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		visits, err := b.Counters(ctx, "visits")
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"page-0": 10, "page-1": 10}, visits)
	})
}
