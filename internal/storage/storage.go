// Package storage defines the session storage backends: a small key/value
// store for durable session state (the cached device position) and named
// counters for persisted metrics.
package storage

import (
	"context"

	"github.com/eternity-ar/arcoord/internal/storage/kv"
)

// ErrInvalidValue is returned when Set is given something other than a JSON document.
var ErrInvalidValue = kv.ErrInvalidValue

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error

	// Get returns the JSON document stored under key. ok is false when absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores a JSON document under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// IncrementCounter adds delta to counter[key] and returns the new total.
	IncrementCounter(ctx context.Context, counter, key string, delta int64) (int64, error)
	// Counters returns every key of counter with its total.
	Counters(ctx context.Context, counter string) (map[string]int64, error)
}
