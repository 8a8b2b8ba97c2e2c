package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/dispatcher"
	"github.com/eternity-ar/arcoord/internal/storage"
	"go.opentelemetry.io/otel/metric"
)

// Deps are the collaborators a configured sink may need. Only the ones named
// in the sink list are required.
type Deps struct {
	Meter      metric.Meter
	Influx     PointWriter
	Store      storage.Backend
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger
}

// Build assembles the recorder for cfg.Sinks. The returned Counter is the
// memory sink, or nil when "memory" is not configured; with the storage sink
// also configured it starts from the persisted totals. Writes go through the
// dispatcher when one is given.
func Build(ctx context.Context, cfg config.MetricsConfig, deps Deps) (Recorder, *Counter, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var (
		sinks   Multi
		counter *Counter
		store   *StoreSink
		wantMem bool
	)
	for _, name := range cfg.Sinks {
		switch name {
		case "memory":
			wantMem = true
		case "otel":
			if deps.Meter == nil {
				return nil, nil, errors.New("otel metrics sink needs a meter")
			}
			s, err := NewOTelSink(deps.Meter)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, s)
		case "influx":
			if deps.Influx == nil {
				return nil, nil, errors.New("influx metrics sink needs a writer")
			}
			sinks = append(sinks, NewInfluxSink(deps.Influx, nil))
		case "storage":
			if deps.Store == nil {
				return nil, nil, errors.New("storage metrics sink needs a backend")
			}
			store = NewStoreSink(deps.Store)
			sinks = append(sinks, store)
		default:
			return nil, nil, fmt.Errorf("unknown metrics sink %q", name)
		}
	}

	if wantMem {
		counter = NewCounter()
		if store != nil {
			loaded, err := store.Load(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("loading persisted metrics: %w", err)
			}
			counter = loaded
		}
		sinks = append(Multi{counter}, sinks...)
	}

	if deps.Dispatcher != nil {
		return NewAsync(deps.Dispatcher, sinks, cfg.BufferSize, deps.Logger), counter, nil
	}
	return NewDirect(sinks, deps.Logger), counter, nil
}
