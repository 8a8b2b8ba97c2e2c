package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/playback"
	"github.com/eternity-ar/arcoord/internal/session"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv     *Server
	http    *httptest.Server
	counter *metrics.Counter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.Discard()

	cat, err := catalog.New([]catalog.PointOfInterest{
		{ID: "hiro", MediaSource: "videos/hiro.mp4", Trigger: catalog.Trigger{Kind: catalog.TriggerPresetMarker, Preset: "hiro"}},
		{ID: "opera", MediaSource: "videos/opera.mp4", Trigger: catalog.Trigger{Kind: catalog.TriggerGeofence}},
	})
	require.NoError(t, err)

	l := loop.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()

	counter := metrics.NewCounter()
	srv := New(Dependencies{
		Loop:    l,
		Catalog: cat,
		Session: session.Deps{
			Metrics:   counter,
			Readiness: config.ReadinessConfig{Attempts: 40, Interval: 5 * time.Millisecond},
			Playback:  playback.DefaultConfig(),
		},
		Counters: counter,
		Logger:   logger,
	})
	h := &harness{srv: srv, http: httptest.NewServer(srv.Router()), counter: counter}
	t.Cleanup(func() {
		h.http.Close()
		cancel()
	})
	return h
}

func (h *harness) dial(t *testing.T) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func write(t *testing.T, conn *ws.Conn, msgType string, payload any) {
	t.Helper()
	data, err := marshalEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, data))
}

// readUntil returns the first message of type msgType, skipping others.
func readUntil(t *testing.T, conn *ws.Conn, msgType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Type == msgType && (match == nil || match(env.Payload)) {
			return env.Payload
		}
	}
}

func playFor(handle string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var c CommandPayload
		return json.Unmarshal(raw, &c) == nil && c.Op == OpPlay && c.Handle == handle
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["pois"])
}

func TestGateway_MarkerSessionEndToEnd(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	write(t, conn, TypeRuntimeReady, struct{}{})
	write(t, conn, TypeOpen, OpenPayload{Page: "ar-marker"})

	var sess SessionPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeSession, nil), &sess))
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, []string{"hiro"}, sess.POIs)
	require.Len(t, sess.Markers, 1)
	assert.Equal(t, "preset", sess.Markers[0].Descriptor.Type)

	var wired WiredPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeWired, nil), &wired))
	assert.True(t, wired.RuntimeReady)

	write(t, conn, TypeFound, MarkerPayload{Marker: "hiro"})

	var play CommandPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommand, playFor("hiro")), &play))
	write(t, conn, TypePlayResult, PlayResultPayload{Request: play.Request})

	assert.Eventually(t, func() bool {
		return h.counter.Snapshot().Get(metrics.VideoPlays, "hiro") == 1
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.Visits["ar-marker"])
	assert.Equal(t, int64(1), snap.AttractionViews["hiro"])
}

func TestGateway_AutoplayRejectionRetriesMuted(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	write(t, conn, TypeRuntimeReady, struct{}{})
	write(t, conn, TypeOpen, OpenPayload{Page: "ar-marker"})
	readUntil(t, conn, TypeWired, nil)
	write(t, conn, TypeFound, MarkerPayload{Marker: "hiro"})

	var first CommandPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommand, playFor("hiro")), &first))
	require.NotNil(t, first.Muted)
	assert.False(t, *first.Muted)
	write(t, conn, TypePlayResult, PlayResultPayload{Request: first.Request, Error: "NotAllowedError", Reason: ReasonAutoplay})

	var retry CommandPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommand, playFor("hiro")), &retry))
	require.NotNil(t, retry.Muted)
	assert.True(t, *retry.Muted)
	write(t, conn, TypePlayResult, PlayResultPayload{Request: retry.Request})

	var unmute CommandPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommand, func(raw json.RawMessage) bool {
		var c CommandPayload
		return json.Unmarshal(raw, &c) == nil && c.Op == OpSetMuted && c.Handle == "hiro"
	}), &unmute))
	require.NotNil(t, unmute.Muted)
	assert.False(t, *unmute.Muted)
}

func TestGateway_RejectsSignalsWithoutSession(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	write(t, conn, TypeFound, MarkerPayload{Marker: "hiro"})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeError, nil), &e))
	assert.Equal(t, TypeFound, e.For)

	write(t, conn, TypeOpen, OpenPayload{Page: "ar-hologram"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeError, nil), &e))
	assert.Equal(t, TypeOpen, e.For)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("{not json")))
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeError, nil), &e))
	assert.Equal(t, "malformed envelope", e.Message)
}

func TestGateway_CloseAndDisconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	write(t, conn, TypeRuntimeReady, struct{}{})
	write(t, conn, TypeOpen, OpenPayload{Page: "ar-marker"})
	readUntil(t, conn, TypeWired, nil)

	write(t, conn, TypeClose, struct{}{})
	var ack AckMessage
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeAck, nil), &ack))
	assert.Equal(t, TypeClose, ack.For)

	assert.Eventually(t, func() bool { return h.srv.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.srv.Clients() == 0 }, 3*time.Second, 10*time.Millisecond)
}
