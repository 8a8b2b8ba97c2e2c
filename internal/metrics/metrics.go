// Package metrics records engagement counters: page visits, attraction views
// and video plays. The engine only sees the Recorder interface; everything
// behind it is a Sink.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Recorder is the fire-and-forget counter interface the coordinator calls.
type Recorder interface {
	RecordVisit(pageKey string)
	RecordAttractionView(poiID string)
	RecordVideoPlay(poiID string)
}

// Kind names a counter.
type Kind string

const (
	Visits          Kind = "visits"
	AttractionViews Kind = "attractionViews"
	VideoPlays      Kind = "videoPlays"
)

// Kinds lists every counter in a stable order.
var Kinds = []Kind{Visits, AttractionViews, VideoPlays}

// ParseKind validates a counter name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown metric kind %q", s)
}

// Event is a single counter increment.
type Event struct {
	Kind Kind
	Key  string
}

// Sink receives counter increments.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }

// Multi fans an event out to every sink. All sinks are tried; errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Direct is a Recorder that writes to its sink synchronously and logs failures.
type Direct struct {
	sink   Sink
	logger *slog.Logger
}

// NewDirect creates a synchronous recorder.
func NewDirect(sink Sink, logger *slog.Logger) *Direct {
	return &Direct{sink: sink, logger: logger}
}

func (d *Direct) RecordVisit(pageKey string)     { d.record(Event{Kind: Visits, Key: pageKey}) }
func (d *Direct) RecordAttractionView(id string) { d.record(Event{Kind: AttractionViews, Key: id}) }
func (d *Direct) RecordVideoPlay(id string)      { d.record(Event{Kind: VideoPlays, Key: id}) }

func (d *Direct) record(e Event) {
	if err := d.sink.Record(context.Background(), e); err != nil {
		d.logger.Warn("metric not recorded", "metric", e.Kind, "key", e.Key, "error", err)
	}
}
