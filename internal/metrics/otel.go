package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelSink increments one OpenTelemetry counter per kind.
type OTelSink struct {
	counters map[Kind]metric.Int64Counter
}

var otelNames = map[Kind]struct{ name, attr, desc string }{
	Visits:          {"arcoord.visits", "page", "AR page visits"},
	AttractionViews: {"arcoord.attraction.views", "poi", "Attraction activations"},
	VideoPlays:      {"arcoord.video.plays", "poi", "First successful plays per activation"},
}

// NewOTelSink creates the counters on m.
func NewOTelSink(m metric.Meter) (*OTelSink, error) {
	s := &OTelSink{counters: make(map[Kind]metric.Int64Counter, len(Kinds))}
	for _, k := range Kinds {
		n := otelNames[k]
		c, err := m.Int64Counter(n.name, metric.WithDescription(n.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", n.name, err)
		}
		s.counters[k] = c
	}
	return s, nil
}

func (s *OTelSink) Record(ctx context.Context, e Event) error {
	c, ok := s.counters[e.Kind]
	if !ok {
		return fmt.Errorf("unknown metric kind %q", e.Kind)
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String(otelNames[e.Kind].attr, e.Key)))
	return nil
}
