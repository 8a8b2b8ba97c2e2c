// Package coordinator runs the per-POI activation state machine. It wires
// activate/deactivate signals to the asset loader and the playback controller
// and emits view and play metrics.
//
// A Coordinator is not safe for concurrent use; every call must come from the
// event loop that owns it.
package coordinator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/eternity-ar/arcoord/internal/assets"
	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/media"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/playback"
)

var (
	// ErrUnknownPOI is returned for a POI id outside the session's catalog.
	ErrUnknownPOI = errors.New("unknown poi")
	// ErrTornDown is returned for events applied after Teardown.
	ErrTornDown = errors.New("coordinator torn down")
)

// Phase is the activation phase of one POI.
type Phase int

const (
	Idle Phase = iota
	Loaded
	Active
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Active:
		return "active"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Signal is an input to the state machine.
type Signal int

const (
	Activate Signal = iota
	Deactivate
)

func (s Signal) String() string {
	if s == Activate {
		return "activate"
	}
	return "deactivate"
}

type action int

const (
	actNone action = iota
	actStart
	actRestart
	actStop
)

// transition is the complete table. Deactivate outside Active is a no-op.
func transition(p Phase, s Signal) (Phase, action) {
	switch p {
	case Idle:
		if s == Activate {
			return Active, actStart
		}
		return Idle, actNone
	case Loaded:
		if s == Activate {
			return Active, actStart
		}
		return Loaded, actNone
	case Active:
		if s == Activate {
			return Active, actRestart
		}
		return Loaded, actStop
	}
	return p, actNone
}

// State is the externally visible activation record of a POI.
type State struct {
	Phase  Phase
	Loaded bool
}

// Deps holds all dependencies for a Coordinator. Overlay is optional.
type Deps struct {
	Loader   *assets.Loader
	Playback *playback.Controller
	Overlay  media.Handle
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

type slot struct {
	poi     catalog.PointOfInterest
	phase   Phase
	primary media.Handle
	session *playback.Session
}

// Coordinator owns one slot per POI, indexed by id.
type Coordinator struct {
	deps  Deps
	slots []slot
	index map[string]int
	done  bool
}

// New builds a coordinator over pois. Every POI starts Idle.
func New(pois []catalog.PointOfInterest, deps Deps) *Coordinator {
	c := &Coordinator{
		deps:  deps,
		slots: make([]slot, len(pois)),
		index: make(map[string]int, len(pois)),
	}
	for i, p := range pois {
		c.slots[i] = slot{poi: p}
		c.index[p.ID] = i
	}
	return c
}

// Activate handles a trigger firing for id. A view is recorded for every
// activation of a known POI, before its media is loaded. Activating an Active
// POI restarts its media from the beginning.
func (c *Coordinator) Activate(id string) error {
	return c.apply(id, Activate)
}

// Deactivate stops the POI's playback, rewinds it and hides the overlay it
// owns. The media stays loaded.
func (c *Coordinator) Deactivate(id string) error {
	return c.apply(id, Deactivate)
}

func (c *Coordinator) apply(id string, sig Signal) error {
	if c.done {
		return ErrTornDown
	}
	i, ok := c.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPOI, id)
	}
	s := &c.slots[i]

	if sig == Activate {
		c.deps.Metrics.RecordAttractionView(id)
	}

	next, act := transition(s.phase, sig)
	switch act {
	case actStart:
		if err := c.start(s); err != nil {
			return err
		}
	case actRestart:
		c.restart(s)
	case actStop:
		c.stop(s)
	}

	if next != s.phase {
		c.deps.Logger.Debug("poi transition", "poi", id, "signal", sig, "from", s.phase, "to", next)
	}
	s.phase = next
	return nil
}

func (c *Coordinator) start(s *slot) error {
	h, err := c.deps.Loader.EnsureLoaded(s.poi)
	if err != nil {
		// phase is left as is: Idle for a source that never resolved
		return err
	}
	s.primary = h
	c.attach(s)
	return nil
}

func (c *Coordinator) restart(s *slot) {
	if s.session != nil {
		s.session.Cancel()
	}
	s.primary.Rewind()
	c.attach(s)
}

func (c *Coordinator) attach(s *slot) {
	id := s.poi.ID
	overlay := c.deps.Overlay
	if overlay != nil {
		if src := s.primary.Source(); overlay.Source() != src {
			overlay.SetSource(src)
		}
		overlay.Rewind()
		overlay.SetVisible(true)
	}
	s.session = c.deps.Playback.Attach(id, s.primary, overlay, func() {
		c.deps.Metrics.RecordVideoPlay(id)
	})
}

func (c *Coordinator) stop(s *slot) {
	overlay := c.deps.Overlay
	ownsOverlay := false
	if overlay != nil {
		owner, ok := c.deps.Playback.OverlayOwner(overlay)
		ownsOverlay = ok && owner == s.poi.ID
	}

	// cancelling pauses every handle the session still owns
	if s.session != nil {
		s.session.Cancel()
		s.session = nil
	} else {
		s.primary.Pause()
	}
	s.primary.Rewind()

	if ownsOverlay {
		overlay.Rewind()
		overlay.SetVisible(false)
	}
}

// Teardown deactivates every active POI and rejects further signals.
func (c *Coordinator) Teardown() {
	if c.done {
		return
	}
	for i := range c.slots {
		s := &c.slots[i]
		if s.phase == Active {
			c.stop(s)
			s.phase = Loaded
		}
	}
	c.deps.Playback.CancelAll()
	c.done = true
	c.deps.Logger.Debug("coordinator torn down")
}

// State returns the activation record for id.
func (c *Coordinator) State(id string) (State, bool) {
	i, ok := c.index[id]
	if !ok {
		return State{}, false
	}
	s := c.slots[i]
	return State{Phase: s.phase, Loaded: s.primary != nil}, true
}

// Active returns the ids of every Active POI in catalog order.
func (c *Coordinator) Active() []string {
	var ids []string
	for _, s := range c.slots {
		if s.phase == Active {
			ids = append(ids, s.poi.ID)
		}
	}
	return ids
}

// POIs returns the coordinated POIs in catalog order.
func (c *Coordinator) POIs() []catalog.PointOfInterest {
	out := make([]catalog.PointOfInterest, len(c.slots))
	for i, s := range c.slots {
		out[i] = s.poi
	}
	return out
}
