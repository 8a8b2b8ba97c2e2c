package media

import (
	"fmt"
	"time"

	"github.com/eternity-ar/arcoord/internal/loop"
)

// Policy decides the outcome of a play attempt on a simulated surface.
type Policy func(h *Simulated, muted bool) error

// AllowAll lets every play attempt succeed.
func AllowAll(*Simulated, bool) error { return nil }

// BlockUnmuted rejects unmuted playback the way a browser does before any
// user gesture.
func BlockUnmuted(_ *Simulated, muted bool) error {
	if !muted {
		return ErrAutoplayRejected
	}
	return nil
}

// FailWith rejects every attempt with err.
func FailWith(err error) Policy {
	return func(*Simulated, bool) error { return err }
}

// Simulated is an in-process media surface with a pluggable autoplay policy.
// It records every operation in Log for inspection.
type Simulated struct {
	id        string
	sched     loop.Scheduler
	latency   time.Duration
	policy    Policy
	src       string
	muted     bool
	visible   bool
	playing   bool
	startedAt time.Time
	offset    time.Duration
	gen       int

	nextListener int
	listeners    map[ReadyEvent]map[int]func()

	Log []string
}

// SimulatedOption configures a Simulated surface.
type SimulatedOption func(*Simulated)

// WithPolicy sets the play policy. The default is AllowAll.
func WithPolicy(p Policy) SimulatedOption {
	return func(s *Simulated) { s.policy = p }
}

// WithLatency delays play results by d.
func WithLatency(d time.Duration) SimulatedOption {
	return func(s *Simulated) { s.latency = d }
}

// NewSimulated creates a surface whose play results are delivered through sched.
func NewSimulated(id string, sched loop.Scheduler, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		id:        id,
		sched:     sched,
		policy:    AllowAll,
		listeners: make(map[ReadyEvent]map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SimulatedFactory builds Simulated surfaces sharing a scheduler and options,
// keeping every surface it made for later inspection.
type SimulatedFactory struct {
	sched   loop.Scheduler
	opts    []SimulatedOption
	Created map[string]*Simulated
}

// NewSimulatedFactory creates a SimulatedFactory.
func NewSimulatedFactory(sched loop.Scheduler, opts ...SimulatedOption) *SimulatedFactory {
	return &SimulatedFactory{sched: sched, opts: opts, Created: make(map[string]*Simulated)}
}

// NewHandle creates a surface and remembers it under id.
func (f *SimulatedFactory) NewHandle(id string) Handle {
	s := NewSimulated(id, f.sched, f.opts...)
	f.Created[id] = s
	return s
}

func (s *Simulated) ID() string     { return s.id }
func (s *Simulated) Source() string { return s.src }

func (s *Simulated) SetSource(src string) {
	s.src = src
	s.playing = false
	s.offset = 0
	s.gen++
	s.record("source " + src)
}

func (s *Simulated) Play(muted bool, done func(error)) {
	s.muted = muted
	if muted {
		s.record("play muted")
	} else {
		s.record("play")
	}

	err := s.policy(s, muted)
	if err == nil && s.src == "" {
		err = ErrNoSource
	}
	gen := s.gen
	s.sched.AfterFunc(s.latency, func() {
		if err == nil && gen != s.gen {
			err = ErrInterrupted
		}
		if err == nil && !s.playing {
			s.playing = true
			s.startedAt = s.sched.Now()
		}
		done(err)
	})
}

func (s *Simulated) Pause() {
	if s.playing {
		s.offset += s.sched.Now().Sub(s.startedAt)
	}
	s.playing = false
	s.gen++
	s.record("pause")
}

func (s *Simulated) Rewind() {
	s.offset = 0
	s.startedAt = s.sched.Now()
	s.record("rewind")
}

func (s *Simulated) SetMuted(muted bool) {
	s.muted = muted
	if muted {
		s.record("mute")
	} else {
		s.record("unmute")
	}
}

func (s *Simulated) SetVisible(visible bool) {
	s.visible = visible
	if visible {
		s.record("show")
	} else {
		s.record("hide")
	}
}

func (s *Simulated) OnReady(ev ReadyEvent, fn func()) func() {
	if s.listeners[ev] == nil {
		s.listeners[ev] = make(map[int]func())
	}
	s.nextListener++
	key := s.nextListener
	s.listeners[ev][key] = fn
	return func() {
		delete(s.listeners[ev], key)
	}
}

// Fire delivers ev to its current subscribers.
func (s *Simulated) Fire(ev ReadyEvent) {
	s.record("ready " + ev.String())
	fns := make([]func(), 0, len(s.listeners[ev]))
	for k := 1; k <= s.nextListener; k++ {
		if fn, ok := s.listeners[ev][k]; ok {
			fns = append(fns, fn)
		}
	}
	for _, fn := range fns {
		fn()
	}
}

// Listeners returns the number of live readiness subscriptions.
func (s *Simulated) Listeners() int {
	n := 0
	for _, m := range s.listeners {
		n += len(m)
	}
	return n
}

// Playing reports whether the surface is playing.
func (s *Simulated) Playing() bool { return s.playing }

// Muted reports the current mute state.
func (s *Simulated) Muted() bool { return s.muted }

// Visible reports whether the surface is shown.
func (s *Simulated) Visible() bool { return s.visible }

// Position returns the playback position on the scheduler clock.
func (s *Simulated) Position() time.Duration {
	if !s.playing {
		return s.offset
	}
	return s.offset + s.sched.Now().Sub(s.startedAt)
}

// Count returns how many times op appears in Log.
func (s *Simulated) Count(op string) int {
	n := 0
	for _, entry := range s.Log {
		if entry == op {
			n++
		}
	}
	return n
}

func (s *Simulated) record(op string) {
	s.Log = append(s.Log, op)
}

func (s *Simulated) String() string {
	return fmt.Sprintf("surface %s (src=%q playing=%t muted=%t)", s.id, s.src, s.playing, s.muted)
}
