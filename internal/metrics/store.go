package metrics

import (
	"context"

	"github.com/eternity-ar/arcoord/internal/storage"
)

// StoreSink persists totals as storage counters named after each Kind.
type StoreSink struct {
	backend storage.Backend
}

// NewStoreSink creates a sink over an initialized backend.
func NewStoreSink(b storage.Backend) *StoreSink {
	return &StoreSink{backend: b}
}

func (s *StoreSink) Record(ctx context.Context, e Event) error {
	_, err := s.backend.IncrementCounter(ctx, string(e.Kind), e.Key, 1)
	return err
}

// Load reads every persisted counter into a fresh Counter.
func (s *StoreSink) Load(ctx context.Context) (*Counter, error) {
	c := NewCounter()
	for _, k := range Kinds {
		totals, err := s.backend.Counters(ctx, string(k))
		if err != nil {
			return nil, err
		}
		c.Seed(k, totals)
	}
	return c, nil
}
