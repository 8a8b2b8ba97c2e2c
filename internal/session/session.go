// Package session wires one AR page: it picks the page's POIs out of the
// catalog, records the visit, requests a QoD session, waits for the AR runtime
// and then connects the trigger adapter to the coordinator.
//
// Every method must be called on the loop that drives Deps.Sched.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eternity-ar/arcoord/internal/assets"
	"github.com/eternity-ar/arcoord/internal/cache"
	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/coordinator"
	"github.com/eternity-ar/arcoord/internal/dispatcher"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/media"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/playback"
	"github.com/eternity-ar/arcoord/internal/qod"
	"github.com/eternity-ar/arcoord/internal/storage"
	"github.com/eternity-ar/arcoord/internal/trigger"
	"github.com/google/uuid"
)

var (
	// ErrNotReady is returned for signals that arrive before triggers are wired.
	ErrNotReady = fmt.Errorf("%w: triggers not wired yet", trigger.ErrSignalDropped)
	ErrClosed   = errors.New("session closed")
)

// PageKind selects which POIs a session drives.
type PageKind string

const (
	PageMarker   PageKind = "ar-marker"
	PageImage    PageKind = "ar-image"
	PageLocation PageKind = "ar-location"
)

// PageKinds lists every page kind.
var PageKinds = []PageKind{PageMarker, PageImage, PageLocation}

// ParsePageKind validates a page key.
func ParsePageKind(s string) (PageKind, error) {
	for _, k := range PageKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown page kind %q", s)
}

// Accepts reports whether POIs with trigger kind t belong on the page.
func (k PageKind) Accepts(t catalog.TriggerKind) bool {
	switch k {
	case PageMarker:
		return t == catalog.TriggerPatternMarker || t == catalog.TriggerPresetMarker || t == catalog.TriggerBarcodeMarker
	case PageImage:
		return t == catalog.TriggerImageTarget
	case PageLocation:
		return t == catalog.TriggerGeofence
	}
	return false
}

// Select returns the catalog POIs for the page that have a media source.
func (k PageKind) Select(c *catalog.Catalog) []catalog.PointOfInterest {
	return c.Filter(func(p catalog.PointOfInterest) bool {
		return k.Accepts(p.Trigger.Kind) && strings.TrimSpace(p.MediaSource) != ""
	})
}

// Marker tells the AR runtime which marker to build for a POI. Signals for it
// must use Ref.
type Marker struct {
	Ref        string                   `json:"ref"`
	POI        string                   `json:"poi"`
	Descriptor catalog.MarkerDescriptor `json:"descriptor"`
}

// Deps holds all dependencies for a Session. Overlay, Store, Dispatcher, QoD
// and Probe are optional; a nil Probe means the runtime is ready at once.
type Deps struct {
	Sched       loop.Scheduler
	Factory     media.Factory
	Overlay     media.Handle
	Metrics     metrics.Recorder
	Store       storage.Backend
	Dispatcher  *dispatcher.Dispatcher
	QoD         qod.Requester
	QoDRequest  qod.Request
	Probe       trigger.ReadyProbe
	Readiness   config.ReadinessConfig
	Playback    playback.Config
	PositionKey string
	Logger      *slog.Logger
}

// Session is one open AR page.
type Session struct {
	id     string
	kind   PageKind
	deps   Deps
	logger *slog.Logger
	pois   []catalog.PointOfInterest

	loader  *assets.Loader
	ctrl    *playback.Controller
	coord   *coordinator.Coordinator
	markers *cache.MarkerCache
	adapter *trigger.Adapter
	poller  *loop.Poller

	qodDone   <-chan struct{}
	onWired   []func()
	runtimeOK bool
	wired     bool
	closed    bool
}

// Start opens a session for kind over cat. The visit is recorded and the QoD
// request issued immediately; triggers are wired once the runtime probe
// succeeds or times out.
func Start(ctx context.Context, kind PageKind, cat *catalog.Catalog, deps Deps) *Session {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		kind:   kind,
		deps:   deps,
		logger: deps.Logger.With("session", id, "page", string(kind)),
		pois:   kind.Select(cat),
	}

	s.deps.Metrics.RecordVisit(string(kind))
	if deps.QoD != nil {
		s.qodDone = qod.Start(ctx, deps.QoD, deps.QoDRequest, s.logger)
	}

	s.loader = assets.NewLoader(deps.Factory, s.logger)
	s.ctrl = playback.NewController(deps.Sched, deps.Playback, s.logger)
	s.coord = coordinator.New(s.pois, coordinator.Deps{
		Loader:   s.loader,
		Playback: s.ctrl,
		Overlay:  deps.Overlay,
		Metrics:  deps.Metrics,
		Logger:   s.logger,
	})
	s.markers = cache.NewMarkerCache()

	s.logger.Info("session started", "pois", len(s.pois))

	probe := deps.Probe
	if probe == nil {
		probe = func() bool { return true }
	}
	s.poller = trigger.AwaitRuntime(deps.Sched, probe, deps.Readiness.Attempts, deps.Readiness.Interval, s.logger, func(ready bool) {
		s.wire(ctx, ready)
	})
	return s
}

func (s *Session) wire(ctx context.Context, ready bool) {
	if s.closed {
		return
	}
	s.runtimeOK = ready
	s.adapter = trigger.New(s.pois, trigger.Deps{
		Sink:        s.coord,
		Markers:     s.markers,
		Store:       s.deps.Store,
		Dispatcher:  s.deps.Dispatcher,
		PositionKey: s.deps.PositionKey,
		Logger:      s.logger,
	})
	s.wired = true
	s.logger.Debug("triggers wired", "markers", s.markers.Len(), "fences", s.adapter.Fences())

	if s.kind == PageLocation {
		if err := s.adapter.Resume(ctx); err != nil {
			s.logger.Debug("resume activation failed", "error", err)
		}
	}

	for _, fn := range s.onWired {
		fn()
	}
	s.onWired = nil
}

// OnWired runs fn once triggers are wired, immediately if they already are.
func (s *Session) OnWired(fn func()) {
	if s.wired {
		fn()
		return
	}
	s.onWired = append(s.onWired, fn)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Kind returns the page kind.
func (s *Session) Kind() PageKind { return s.kind }

// Wired reports whether signals are being accepted.
func (s *Session) Wired() bool { return s.wired && !s.closed }

// RuntimeReady reports whether the runtime probe succeeded before wiring.
func (s *Session) RuntimeReady() bool { return s.runtimeOK }

// POIs returns the page's POIs in catalog order.
func (s *Session) POIs() []catalog.PointOfInterest { return s.pois }

// Coordinator exposes the activation state of the page's POIs.
func (s *Session) Coordinator() *coordinator.Coordinator { return s.coord }

// Markers returns the runtime marker for each marker POI on the page.
func (s *Session) Markers() []Marker {
	var out []Marker
	for _, p := range s.pois {
		d, ok := catalog.Describe(p)
		if !ok {
			continue
		}
		if d.URL != "" {
			if u, err := assets.NormalizePath(d.URL); err == nil {
				d.URL = u
			} else {
				s.logger.Warn("marker url invalid", "poi", p.ID, "url", d.URL, "error", err)
			}
		}
		out = append(out, Marker{Ref: p.ID, POI: p.ID, Descriptor: d})
	}
	return out
}

// Bind maps an extra runtime marker reference to a POI on the page.
func (s *Session) Bind(markerRef, poiID string) error {
	if _, ok := s.coord.State(poiID); !ok {
		return fmt.Errorf("%w: %s", coordinator.ErrUnknownPOI, poiID)
	}
	if !s.wired {
		s.OnWired(func() { s.adapter.Bind(markerRef, poiID) })
		return nil
	}
	s.adapter.Bind(markerRef, poiID)
	return nil
}

func (s *Session) ready() error {
	if s.closed {
		return ErrClosed
	}
	if !s.wired {
		s.logger.Debug("signal before wiring", logging.Kind(logging.KindSignalDropped))
		return ErrNotReady
	}
	return nil
}

// Found forwards a marker found signal.
func (s *Session) Found(markerRef string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.adapter.Found(markerRef)
}

// Lost forwards a marker lost signal.
func (s *Session) Lost(markerRef string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.adapter.Lost(markerRef)
}

// PositionUpdate forwards a device position sample.
func (s *Session) PositionUpdate(lat, lon float64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.adapter.PositionUpdate(lat, lon)
}

// QoDDone is closed once the QoD request has finished; nil if none was issued.
func (s *Session) QoDDone() <-chan struct{} { return s.qodDone }

// Close tears the page down: the readiness wait stops, markers are unbound
// and every active POI is deactivated.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.poller != nil {
		s.poller.Cancel()
	}
	if s.adapter != nil {
		s.adapter.Close()
	}
	s.coord.Teardown()
	s.onWired = nil
	s.logger.Info("session closed")
}
