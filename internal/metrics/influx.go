package metrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement every increment is written to.
const Measurement = "engagement"

// PointWriter accepts InfluxDB points. *influx.Manager satisfies it.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// InfluxSink writes one point per increment.
type InfluxSink struct {
	w   PointWriter
	now func() time.Time
}

// NewInfluxSink creates a sink writing to w, timestamped by now (time.Now if nil).
func NewInfluxSink(w PointWriter, now func() time.Time) *InfluxSink {
	if now == nil {
		now = time.Now
	}
	return &InfluxSink{w: w, now: now}
}

func (s *InfluxSink) Record(_ context.Context, e Event) error {
	p := influxdb2.NewPoint(
		Measurement,
		map[string]string{"kind": string(e.Kind), "key": e.Key},
		map[string]any{"count": int64(1)},
		s.now(),
	)
	return s.w.WritePoint(p)
}
