// Package playback drives media handles through the autoplay-with-muted-fallback
// protocol and keeps at most one live playback session per POI.
package playback

import (
	"errors"
	"log/slog"
	"time"

	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/media"
)

// ErrorKind classifies a play result.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAutoplay
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAutoplay:
		return "autoplay"
	}
	return "other"
}

// Classify maps a play error to its kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, media.ErrAutoplayRejected):
		return KindAutoplay
	}
	return KindOther
}

// Config holds the retry cascade timing.
type Config struct {
	RetryDelays []time.Duration
	UnmuteDelay time.Duration
}

// DefaultConfig returns the stock cascade: retries at 0, 160, 400 and 800ms
// and an unmute 180ms after a muted start.
func DefaultConfig() Config {
	return Config{
		RetryDelays: []time.Duration{0, 160 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
		UnmuteDelay: 180 * time.Millisecond,
	}
}

// Controller owns the live sessions, keyed by POI id, and tracks which
// session currently owns each shared overlay surface.
type Controller struct {
	sched  loop.Scheduler
	cfg    Config
	logger *slog.Logger

	live     map[string]*Session
	overlays map[media.Handle]*Session
}

// NewController creates a Controller scheduling retries on sched.
func NewController(sched loop.Scheduler, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		sched:    sched,
		cfg:      cfg,
		logger:   logger,
		live:     make(map[string]*Session),
		overlays: make(map[media.Handle]*Session),
	}
}

// Attach starts playing primary, and overlay when non-nil, for the POI key.
// Any live session for key is cancelled first. If another POI's session owns
// overlay, that session gives it up without pausing it. onFirstPlay runs once,
// after the first successful play of either handle.
func (c *Controller) Attach(key string, primary, overlay media.Handle, onFirstPlay func()) *Session {
	if prev, ok := c.live[key]; ok {
		prev.Cancel()
	}

	s := &Session{
		c:           c,
		key:         key,
		onFirstPlay: onFirstPlay,
		logger:      c.logger.With("poi", key),
	}
	s.targets = append(s.targets, &target{h: primary})

	if overlay != nil {
		if owner, ok := c.overlays[overlay]; ok && owner != s {
			owner.releaseOverlay(overlay)
		}
		c.overlays[overlay] = s
		s.targets = append(s.targets, &target{h: overlay, overlay: true})
	}
	c.live[key] = s

	for _, t := range s.targets {
		for _, ev := range media.ReadyEvents {
			s.removers = append(s.removers, t.h.OnReady(ev, s.tick))
		}
	}
	for _, d := range c.cfg.RetryDelays {
		s.timers = append(s.timers, c.sched.AfterFunc(d, s.tick))
	}
	s.tick()
	return s
}

// Live returns the live session for key.
func (c *Controller) Live(key string) (*Session, bool) {
	s, ok := c.live[key]
	return s, ok
}

// LiveCount returns the number of live sessions.
func (c *Controller) LiveCount() int {
	return len(c.live)
}

// Cancel cancels the live session for key, if any.
func (c *Controller) Cancel(key string) {
	if s, ok := c.live[key]; ok {
		s.Cancel()
	}
}

// OverlayOwner returns the key of the session that currently owns overlay.
func (c *Controller) OverlayOwner(overlay media.Handle) (string, bool) {
	s, ok := c.overlays[overlay]
	if !ok {
		return "", false
	}
	return s.key, true
}

// CancelAll cancels every live session.
func (c *Controller) CancelAll() {
	for _, s := range c.live {
		s.Cancel()
	}
}

type targetState int

const (
	stateIdle targetState = iota
	statePending
	statePlaying
)

type target struct {
	h        media.Handle
	overlay  bool
	state    targetState
	released bool
}

// Session is one live attempt to play a POI's media. All of its timers and
// listeners check the disposed flag, so nothing it scheduled can resume
// playback after Cancel.
type Session struct {
	c           *Controller
	key         string
	logger      *slog.Logger
	targets     []*target
	onFirstPlay func()

	disposed    bool
	firstPlayed bool
	attempts    int
	timers      []loop.Timer
	removers    []func()
}

// Key returns the POI id the session plays for.
func (s *Session) Key() string { return s.key }

// Disposed reports whether Cancel has run.
func (s *Session) Disposed() bool { return s.disposed }

// Played reports whether any handle has started playing.
func (s *Session) Played() bool { return s.firstPlayed }

// Attempts returns how many play attempts the session has issued, muted
// retries included.
func (s *Session) Attempts() int { return s.attempts }

// Cancel disposes the session: timers stop, listeners are removed and every
// handle it still owns is paused. Safe to call more than once.
func (s *Session) Cancel() {
	if s.disposed {
		return
	}
	s.disposed = true

	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	for _, remove := range s.removers {
		remove()
	}
	s.removers = nil

	for _, t := range s.targets {
		if t.released {
			continue
		}
		t.h.Pause()
		if t.overlay && s.c.overlays[t.h] == s {
			delete(s.c.overlays, t.h)
		}
	}
	if s.c.live[s.key] == s {
		delete(s.c.live, s.key)
	}
}

func (s *Session) releaseOverlay(h media.Handle) {
	for _, t := range s.targets {
		if t.h == h && t.overlay {
			t.released = true
		}
	}
	s.logger.Debug("overlay taken over by another poi")
}

// tick is one attempt: every idle handle is played unmuted.
func (s *Session) tick() {
	if s.disposed {
		return
	}
	for _, t := range s.targets {
		if t.released || t.state != stateIdle {
			continue
		}
		s.play(t, false)
	}
}

func (s *Session) play(t *target, muted bool) {
	t.state = statePending
	s.attempts++
	t.h.Play(muted, func(err error) {
		s.result(t, muted, err)
	})
}

func (s *Session) result(t *target, muted bool, err error) {
	if s.disposed || t.released {
		return
	}

	switch Classify(err) {
	case KindNone:
		t.state = statePlaying
		if muted {
			s.timers = append(s.timers, s.c.sched.AfterFunc(s.c.cfg.UnmuteDelay, func() {
				if s.disposed || t.released {
					return
				}
				t.h.SetMuted(false)
			}))
		}
		if !s.firstPlayed {
			s.firstPlayed = true
			if s.onFirstPlay != nil {
				s.onFirstPlay()
			}
		}

	case KindAutoplay:
		if !muted {
			s.logger.Debug("autoplay rejected, retrying muted",
				logging.Kind(logging.KindAutoplayRejected),
				"handle", t.h.ID())
			s.play(t, true)
			return
		}
		t.state = stateIdle
		s.logger.Debug("muted playback rejected",
			logging.Kind(logging.KindAutoplayRejected),
			"handle", t.h.ID())

	case KindOther:
		t.state = stateIdle
		s.logger.Warn("playback failed",
			logging.Kind(logging.KindPlaybackRejectedOther),
			"handle", t.h.ID(),
			"error", err)
	}
}
