// Package gateway exposes page sessions to AR runtimes over WebSocket. Each
// connection opens one session; the runtime streams trigger signals in and
// mirrors the media surfaces the engine drives through command messages.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
)

// Loop runs every session callback. *loop.Loop satisfies it.
type Loop interface {
	loop.Scheduler
	loop.Executor
}

// Dependencies holds all dependencies for the gateway. Session supplies the
// shared session settings; Sched, Factory, Overlay and Probe are filled in
// per connection.
type Dependencies struct {
	Loop     Loop
	Catalog  *catalog.Catalog
	Session  session.Deps
	Counters *metrics.Counter
	Logger   *slog.Logger
}

// Server accepts AR runtime connections.
type Server struct {
	deps     Dependencies
	upgrader ws.Upgrader
	clients  atomic.Int64
}

// New creates a gateway server.
func New(deps Dependencies) *Server {
	return &Server{
		deps: deps,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP routes: /ws, /healthz and /metrics.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return r
}

// Clients returns the number of connected runtimes.
func (s *Server) Clients() int64 { return s.clients.Load() }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.clients.Load(),
		"pois":    s.deps.Catalog.Len(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Counters == nil {
		http.Error(w, "in-memory metrics disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Counters.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	s.clients.Add(1)
	defer s.clients.Add(-1)

	ctx := logging.ContextWith(r.Context(),
		slog.String("remote", r.RemoteAddr),
		slog.String("userAgent", r.UserAgent()))
	c := newClient(s, conn)
	c.run(ctx)
}

// client is one runtime connection. Everything but the socket loops runs on
// the engine loop.
type client struct {
	srv     *Server
	id      string
	conn    *connection
	logger  *slog.Logger
	remotes *remotes

	sess         *session.Session
	runtimeReady bool
	gone         bool
}

func newClient(srv *Server, conn *ws.Conn) *client {
	id := uuid.NewString()
	logger := srv.deps.Logger.With("client", id)
	c := &client{
		srv:    srv,
		id:     id,
		conn:   newConnection(conn, logger),
		logger: logger,
	}
	c.remotes = newRemotes(c.send, srv.deps.Loop, logger)
	return c
}

func (c *client) run(ctx context.Context) {
	c.logger.InfoContext(ctx, "runtime connected")
	go c.conn.writeLoop()

	err := c.conn.readLoop(func(raw []byte) {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Debug("malformed message", "raw", string(raw), "error", err)
			c.send(TypeError, ErrorPayload{Message: "malformed envelope"})
			return
		}
		c.srv.deps.Loop.Post(func() { c.handle(env) })
	})
	if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
		c.logger.Debug("WebSocket read ended", "error", err)
	}

	done := make(chan struct{})
	c.srv.deps.Loop.Post(func() {
		defer close(done)
		c.teardown()
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("teardown did not run on the loop in time")
	}
	_ = c.conn.close()
	c.logger.InfoContext(ctx, "runtime disconnected")
}

func (c *client) send(msgType string, payload any) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		c.logger.Error("failed to encode message", "type", msgType, "error", err)
		return
	}
	c.conn.send(data)
}

func (c *client) handle(env Envelope) {
	if c.gone {
		return
	}
	if err := c.dispatch(env); err != nil {
		c.logger.Debug("message rejected", "type", env.Type, "error", err)
		c.send(TypeError, ErrorPayload{For: env.Type, Message: err.Error()})
	}
}

func (c *client) dispatch(env Envelope) error {
	switch env.Type {
	case TypeOpen:
		p, err := decodePayload[OpenPayload](env)
		if err != nil {
			return err
		}
		return c.open(p)
	case TypeRuntimeReady:
		c.runtimeReady = true
		return nil
	case TypePlayResult:
		p, err := decodePayload[PlayResultPayload](env)
		if err != nil {
			return err
		}
		if !c.remotes.result(p) {
			c.logger.Debug("play result for unknown request", "request", p.Request)
		}
		return nil
	case TypeMediaEvent:
		p, err := decodePayload[MediaEventPayload](env)
		if err != nil {
			return err
		}
		return c.remotes.event(p)
	case TypeClose:
		c.closeSession()
		c.send(TypeAck, AckMessage{For: env.Type})
		return nil
	}

	if c.sess == nil {
		return errors.New("no open session")
	}
	switch env.Type {
	case TypeFound, TypeLost:
		p, err := decodePayload[MarkerPayload](env)
		if err != nil {
			return err
		}
		if env.Type == TypeFound {
			return c.sess.Found(p.Marker)
		}
		return c.sess.Lost(p.Marker)
	case TypePosition:
		p, err := decodePayload[PositionPayload](env)
		if err != nil {
			return err
		}
		return c.sess.PositionUpdate(p.Latitude, p.Longitude)
	case TypeBind:
		p, err := decodePayload[BindPayload](env)
		if err != nil {
			return err
		}
		if err := c.sess.Bind(p.Marker, p.POI); err != nil {
			return err
		}
		c.send(TypeAck, AckMessage{For: env.Type})
		return nil
	}
	return fmt.Errorf("unknown message type %q", env.Type)
}

func (c *client) open(p OpenPayload) error {
	if c.sess != nil {
		return errors.New("session already open")
	}
	kind, err := session.ParsePageKind(p.Page)
	if err != nil {
		return err
	}

	deps := c.srv.deps.Session
	deps.Sched = c.srv.deps.Loop
	deps.Factory = c.remotes
	deps.Overlay = c.remotes.handle(OverlayHandle)
	deps.Probe = func() bool { return c.runtimeReady }
	deps.Logger = c.logger

	s := session.Start(context.Background(), kind, c.srv.deps.Catalog, deps)
	c.sess = s

	ids := make([]string, 0, len(s.POIs()))
	for _, poi := range s.POIs() {
		ids = append(ids, poi.ID)
	}
	c.send(TypeSession, SessionPayload{ID: s.ID(), Page: string(kind), POIs: ids, Markers: s.Markers()})
	s.OnWired(func() {
		c.send(TypeWired, WiredPayload{RuntimeReady: s.RuntimeReady()})
	})
	return nil
}

func (c *client) closeSession() {
	if c.sess == nil {
		return
	}
	c.sess.Close()
	c.sess = nil
}

// teardown disposes the session before failing pending plays, so the failed
// results land on disposed playback sessions.
func (c *client) teardown() {
	if c.gone {
		return
	}
	c.gone = true
	c.closeSession()
	c.remotes.disconnect()
}
