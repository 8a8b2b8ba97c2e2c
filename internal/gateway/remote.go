package gateway

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/media"
	"github.com/google/uuid"
)

// ErrDisconnected is delivered to plays still pending when the client goes away.
var ErrDisconnected = errors.New("client disconnected")

// OverlayHandle is the id of the shared overlay surface on every client.
const OverlayHandle = "overlay"

type sendFunc func(msgType string, payload any)

// remotes tracks the surfaces mirrored on one client. It lives on the loop.
type remotes struct {
	send    sendFunc
	exec    loop.Executor
	logger  *slog.Logger
	handles map[string]*Remote
	pending map[string]pendingPlay
	closed  bool
}

type pendingPlay struct {
	handle *Remote
	done   func(error)
}

func newRemotes(send sendFunc, exec loop.Executor, logger *slog.Logger) *remotes {
	return &remotes{
		send:    send,
		exec:    exec,
		logger:  logger,
		handles: make(map[string]*Remote),
		pending: make(map[string]pendingPlay),
	}
}

// NewHandle satisfies media.Factory.
func (r *remotes) NewHandle(id string) media.Handle {
	return r.handle(id)
}

func (r *remotes) handle(id string) *Remote {
	if h, ok := r.handles[id]; ok {
		return h
	}
	h := &Remote{id: id, owner: r, listeners: make(map[media.ReadyEvent][]*listener)}
	r.handles[id] = h
	return h
}

func (r *remotes) command(c CommandPayload) {
	if r.closed {
		return
	}
	r.send(TypeCommand, c)
}

// result resolves a pending play. Unknown request ids are ignored.
func (r *remotes) result(p PlayResultPayload) bool {
	pp, ok := r.pending[p.Request]
	if !ok {
		return false
	}
	delete(r.pending, p.Request)

	var err error
	switch {
	case p.Error == "" && p.Reason == "":
		pp.handle.playing = true
	case p.Reason == ReasonAutoplay:
		err = media.ErrAutoplayRejected
	case p.Reason == ReasonInterrupted:
		err = media.ErrInterrupted
	default:
		err = errors.New(p.Error)
	}
	pp.done(err)
	return true
}

func (r *remotes) event(p MediaEventPayload) error {
	ev, err := media.ParseReadyEvent(p.Event)
	if err != nil {
		return err
	}
	h, ok := r.handles[p.Handle]
	if !ok {
		return errors.New("unknown handle " + p.Handle)
	}
	h.fire(ev)
	return nil
}

// disconnect fails every pending play and stops sending commands.
func (r *remotes) disconnect() {
	r.closed = true
	pending := r.pending
	r.pending = make(map[string]pendingPlay)
	for _, pp := range pending {
		pp.done(ErrDisconnected)
	}
}

type listener struct {
	fn func()
}

// Remote is a media.Handle whose surface lives on the client. Commands go
// out as messages; play outcomes and readiness events come back on the loop.
type Remote struct {
	id        string
	owner     *remotes
	src       string
	playing   bool
	listeners map[media.ReadyEvent][]*listener
}

func (h *Remote) ID() string     { return h.id }
func (h *Remote) Source() string { return h.src }

func (h *Remote) SetSource(src string) {
	h.src = src
	h.playing = false
	h.owner.command(CommandPayload{Handle: h.id, Op: OpSetSource, Source: src})
}

func (h *Remote) Play(muted bool, done func(error)) {
	if h.owner.closed {
		h.owner.exec.Post(func() { done(ErrDisconnected) })
		return
	}
	req := uuid.NewString()
	h.owner.pending[req] = pendingPlay{handle: h, done: done}
	h.owner.command(CommandPayload{Handle: h.id, Op: OpPlay, Request: req, Muted: &muted})
}

func (h *Remote) Pause() {
	h.playing = false
	h.owner.command(CommandPayload{Handle: h.id, Op: OpPause})
}

func (h *Remote) Rewind() {
	h.owner.command(CommandPayload{Handle: h.id, Op: OpRewind})
}

func (h *Remote) SetMuted(muted bool) {
	h.owner.command(CommandPayload{Handle: h.id, Op: OpSetMuted, Muted: &muted})
}

func (h *Remote) SetVisible(visible bool) {
	h.owner.command(CommandPayload{Handle: h.id, Op: OpSetVisible, Visible: &visible})
}

func (h *Remote) OnReady(ev media.ReadyEvent, fn func()) func() {
	l := &listener{fn: fn}
	h.listeners[ev] = append(h.listeners[ev], l)
	return func() {
		h.listeners[ev] = slices.DeleteFunc(h.listeners[ev], func(x *listener) bool { return x == l })
	}
}

// Playing reports whether the last play succeeded and nothing stopped it since.
func (h *Remote) Playing() bool { return h.playing }

func (h *Remote) fire(ev media.ReadyEvent) {
	for _, l := range slices.Clone(h.listeners[ev]) {
		l.fn()
	}
}
