// Package trigger turns AR runtime signals into coordinator activations.
// Marker found/lost signals are forwarded as they arrive; position updates are
// evaluated against every geofenced POI and only containment changes are
// forwarded.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternity-ar/arcoord/internal/cache"
	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/dispatcher"
	"github.com/eternity-ar/arcoord/internal/geo"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/storage"
)

var (
	// ErrSignalDropped is returned for a signal that cannot be addressed to a POI.
	ErrSignalDropped = errors.New("signal dropped")
	// ErrClosed is returned for signals that arrive after Close.
	ErrClosed = errors.New("trigger adapter closed")
)

// DefaultPositionKey is the storage key of the cached device position.
const DefaultPositionKey = "eternity.lastPosition"

// JobPersistPosition is the dispatcher job that writes the cached position.
const JobPersistPosition = "trigger.persistPosition"

// Sink receives activations. *coordinator.Coordinator satisfies it.
type Sink interface {
	Activate(id string) error
	Deactivate(id string) error
}

// Deps holds all dependencies for an Adapter. Store and Dispatcher are
// optional: without a store the position is not cached. The position is
// written through the dispatcher when it has the persist job registered
// (see RegisterPersistJob), synchronously otherwise.
type Deps struct {
	Sink        Sink
	Markers     *cache.MarkerCache
	Store       storage.Backend
	Dispatcher  *dispatcher.Dispatcher
	PositionKey string
	Logger      *slog.Logger
}

// StoredPosition is the JSON document kept under the position key.
type StoredPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type fence struct {
	poi  catalog.PointOfInterest
	last geo.Containment
}

// Adapter is not safe for concurrent use; signals must be delivered from the
// loop that owns the Sink.
type Adapter struct {
	deps   Deps
	fences []fence
	bound  []string
	closed bool
}

// New binds every marker POI under its own id and tracks containment for every
// geofenced POI, starting Outside.
func New(pois []catalog.PointOfInterest, deps Deps) *Adapter {
	if deps.Markers == nil {
		deps.Markers = cache.NewMarkerCache()
	}
	if deps.PositionKey == "" {
		deps.PositionKey = DefaultPositionKey
	}
	a := &Adapter{deps: deps}

	for _, p := range pois {
		switch {
		case p.Trigger.Kind.IsMarker():
			a.Bind(p.ID, p.ID)
		case p.Trigger.Kind == catalog.TriggerGeofence:
			a.fences = append(a.fences, fence{poi: p, last: geo.Outside})
		}
	}

	return a
}

// Bind associates a runtime marker reference with a POI id.
func (a *Adapter) Bind(markerRef, poiID string) {
	a.deps.Markers.Bind(markerRef, poiID)
	a.bound = append(a.bound, markerRef)
}

// Found forwards a marker found signal as an activation.
func (a *Adapter) Found(markerRef string) error {
	id, err := a.lookup("found", markerRef)
	if err != nil {
		return err
	}
	return a.deps.Sink.Activate(id)
}

// Lost forwards a marker lost signal as a deactivation.
func (a *Adapter) Lost(markerRef string) error {
	id, err := a.lookup("lost", markerRef)
	if err != nil {
		return err
	}
	return a.deps.Sink.Deactivate(id)
}

func (a *Adapter) lookup(signal, markerRef string) (string, error) {
	if a.closed {
		return "", ErrClosed
	}
	id, ok := a.deps.Markers.Lookup(markerRef)
	if !ok {
		a.deps.Logger.Debug("unknown marker",
			logging.Kind(logging.KindSignalDropped),
			"signal", signal,
			"marker", markerRef)
		return "", fmt.Errorf("%w: unknown marker %q", ErrSignalDropped, markerRef)
	}
	return id, nil
}

// PositionUpdate evaluates every geofence against the sample and caches it.
// Invalid samples are dropped. Errors from the sink are joined; one POI
// failing does not stop the others from being evaluated.
func (a *Adapter) PositionUpdate(lat, lon float64) error {
	if a.closed {
		return ErrClosed
	}
	pos := geo.Position{Latitude: lat, Longitude: lon}
	if !pos.Valid() {
		a.deps.Logger.Debug("invalid position",
			logging.Kind(logging.KindSignalDropped),
			"latitude", lat,
			"longitude", lon)
		return fmt.Errorf("%w: %w", ErrSignalDropped, geo.ErrInvalidCoordinates)
	}
	a.persist(pos)
	return a.evaluate(pos)
}

func (a *Adapter) evaluate(pos geo.Position) error {
	var errs []error
	for i := range a.fences {
		f := &a.fences[i]
		c := geo.Evaluate(pos, f.poi.Trigger.Fence, f.last)
		if c == geo.Unchanged {
			continue
		}
		f.last = c
		var err error
		if c == geo.Inside {
			err = a.deps.Sink.Activate(f.poi.ID)
		} else {
			err = a.deps.Sink.Deactivate(f.poi.ID)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Containment returns the last containment recorded for a geofenced POI.
func (a *Adapter) Containment(id string) (geo.Containment, bool) {
	for _, f := range a.fences {
		if f.poi.ID == id {
			return f.last, true
		}
	}
	return geo.Unchanged, false
}

// Fences returns how many geofenced POIs are tracked.
func (a *Adapter) Fences() int {
	return len(a.fences)
}

// Resume evaluates the cached position, if any, so geofenced POIs activate
// before the first fresh fix. A missing cache is not an error; an unreadable
// one is logged and ignored.
func (a *Adapter) Resume(ctx context.Context) error {
	if a.closed {
		return ErrClosed
	}
	if a.deps.Store == nil || len(a.fences) == 0 {
		return nil
	}
	raw, ok, err := a.deps.Store.Get(ctx, a.deps.PositionKey)
	if err != nil {
		a.deps.Logger.Warn("failed to read cached position", "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	pos, err := decodePosition(raw)
	if err != nil {
		a.deps.Logger.Warn("failed to parse cached position", "error", err)
		return nil
	}
	a.deps.Logger.Debug("resuming from cached position", "latitude", pos.Latitude, "longitude", pos.Longitude)
	return a.evaluate(pos)
}

func decodePosition(raw []byte) (geo.Position, error) {
	var doc struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return geo.Position{}, err
	}
	if doc.Latitude == nil || doc.Longitude == nil {
		return geo.Position{}, geo.ErrInvalidCoordinates
	}
	pos := geo.Position{Latitude: *doc.Latitude, Longitude: *doc.Longitude}
	if !pos.Valid() {
		return geo.Position{}, geo.ErrInvalidCoordinates
	}
	return pos, nil
}

func (a *Adapter) persist(pos geo.Position) {
	if a.deps.Store == nil {
		return
	}
	value, err := json.Marshal(StoredPosition{Latitude: pos.Latitude, Longitude: pos.Longitude})
	if err != nil {
		a.deps.Logger.Warn("failed to encode position", "error", err)
		return
	}

	if d := a.deps.Dispatcher; d != nil && d.HasHandler(JobPersistPosition) {
		err := d.Dispatch(dispatcher.Job{
			Name: JobPersistPosition,
			Args: []string{a.deps.PositionKey, string(value)},
		})
		if err != nil {
			a.deps.Logger.Debug("position not cached", "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.deps.Store.Set(ctx, a.deps.PositionKey, value); err != nil {
		a.deps.Logger.Warn("failed to cache position", "error", err)
	}
}

// RegisterPersistJob registers the buffered job that writes cached positions
// to store. Writes for one dispatcher happen in order on a single worker.
func RegisterPersistJob(d *dispatcher.Dispatcher, store storage.Backend, bufferSize int) {
	d.Register(JobPersistPosition, func(j dispatcher.Job) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.Set(ctx, j.Arg(0), []byte(j.Arg(1)))
	}, dispatcher.Buffered(bufferSize))
}

// Close unbinds every marker this adapter bound and drops later signals.
func (a *Adapter) Close() {
	if a.closed {
		return
	}
	a.closed = true
	for _, ref := range a.bound {
		a.deps.Markers.Unbind(ref)
	}
	a.bound = nil
}
