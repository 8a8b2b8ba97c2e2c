// Package memory implements an in-process storage backend. Nothing survives
// a restart; it is the default for single-page sessions and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/eternity-ar/arcoord/internal/storage/kv"
)

// Backend keeps values and counters in maps guarded by a mutex.
type Backend struct {
	mu       sync.RWMutex
	values   map[string][]byte
	counters map[string]map[string]int64
}

// New creates an empty memory backend.
func New() *Backend {
	return &Backend{
		values:   make(map[string][]byte),
		counters: make(map[string]map[string]int64),
	}
}

func (b *Backend) Init(context.Context) error { return nil }
func (b *Backend) Close() error               { return nil }

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return slices.Clone(v), ok, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	if err := kv.Validate(value); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = slices.Clone(value)
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

func (b *Backend) IncrementCounter(_ context.Context, counter, key string, delta int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[counter]
	if !ok {
		c = make(map[string]int64)
		b.counters[counter] = c
	}
	c[key] += delta
	return c[key], nil
}

func (b *Backend) Counters(_ context.Context, counter string) (map[string]int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int64, len(b.counters[counter]))
	maps.Copy(out, b.counters[counter])
	return out, nil
}
