// Package media defines the playable surface contract the engine drives.
package media

import (
	"errors"
	"fmt"
)

var (
	// ErrAutoplayRejected means the runtime refused unmuted playback without
	// a prior user gesture. It is the only play error that warrants a retry.
	ErrAutoplayRejected = errors.New("autoplay rejected")
	// ErrNoSource is returned when Play is called before a source is attached.
	ErrNoSource = errors.New("no media source")
	// ErrInterrupted is delivered to a pending Play when Pause or SetSource
	// runs before playback starts.
	ErrInterrupted = errors.New("play interrupted")
)

// ReadyEvent is a "now playable" readiness signal.
type ReadyEvent int

const (
	DataLoaded ReadyEvent = iota
	CanStart
	CanPlayThrough
)

// ReadyEvents lists every readiness signal a controller subscribes to.
var ReadyEvents = []ReadyEvent{DataLoaded, CanStart, CanPlayThrough}

func (e ReadyEvent) String() string {
	switch e {
	case DataLoaded:
		return "data-loaded"
	case CanStart:
		return "can-start"
	case CanPlayThrough:
		return "can-play-through"
	}
	return fmt.Sprintf("ReadyEvent(%d)", int(e))
}

// ParseReadyEvent maps a wire name back to its ReadyEvent.
func ParseReadyEvent(s string) (ReadyEvent, error) {
	for _, e := range ReadyEvents {
		if e.String() == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown ready event %q", s)
}

// Handle is a media surface. Every method is called on the loop goroutine
// and every callback it takes must be delivered there too.
type Handle interface {
	ID() string
	Source() string
	SetSource(src string)
	// Play starts playback and reports the outcome to done exactly once,
	// asynchronously. Playing an already playing handle succeeds.
	Play(muted bool, done func(error))
	Pause()
	// Rewind seeks to position zero.
	Rewind()
	SetMuted(muted bool)
	SetVisible(visible bool)
	// OnReady subscribes fn to ev. The returned func removes the subscription.
	OnReady(ev ReadyEvent, fn func()) (remove func())
}

// Factory creates a fresh surface for a POI.
type Factory interface {
	NewHandle(id string) Handle
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(id string) Handle

// NewHandle calls f(id).
func (f FactoryFunc) NewHandle(id string) Handle {
	return f(id)
}
