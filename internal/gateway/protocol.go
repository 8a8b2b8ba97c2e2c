package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/eternity-ar/arcoord/internal/session"
)

// Message types sent by the AR runtime.
const (
	TypeOpen         = "open"
	TypeRuntimeReady = "runtime_ready"
	TypeFound        = "found"
	TypeLost         = "lost"
	TypePosition     = "position"
	TypeBind         = "bind"
	TypePlayResult   = "play_result"
	TypeMediaEvent   = "media_event"
	TypeClose        = "close"
)

// Message types sent by the engine.
const (
	TypeSession = "session"
	TypeWired   = "wired"
	TypeCommand = "command"
	TypeError   = "error"
	TypeAck     = "ack"
)

// Media command operations.
const (
	OpSetSource  = "set_source"
	OpPlay       = "play"
	OpPause      = "pause"
	OpRewind     = "rewind"
	OpSetMuted   = "set_muted"
	OpSetVisible = "set_visible"
)

// Play failure reasons reported by the runtime.
const (
	ReasonAutoplay    = "autoplay"
	ReasonInterrupted = "interrupted"
)

// Envelope wraps every message on the socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OpenPayload starts a page session.
type OpenPayload struct {
	Page string `json:"page"`
}

// MarkerPayload carries a marker found or lost signal.
type MarkerPayload struct {
	Marker string `json:"marker"`
}

// PositionPayload carries one device position sample.
type PositionPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BindPayload maps a runtime marker reference to a POI.
type BindPayload struct {
	Marker string `json:"marker"`
	POI    string `json:"poi"`
}

// PlayResultPayload answers a play command. An empty Error means success.
type PlayResultPayload struct {
	Request string `json:"request"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// MediaEventPayload reports a readiness event on a surface.
type MediaEventPayload struct {
	Handle string `json:"handle"`
	Event  string `json:"event"`
}

// SessionPayload describes the opened session.
type SessionPayload struct {
	ID      string           `json:"id"`
	Page    string           `json:"page"`
	POIs    []string         `json:"pois"`
	Markers []session.Marker `json:"markers"`
}

// WiredPayload tells the runtime that signals are now accepted.
type WiredPayload struct {
	RuntimeReady bool `json:"runtimeReady"`
}

// CommandPayload drives a media surface on the client.
type CommandPayload struct {
	Handle  string `json:"handle"`
	Op      string `json:"op"`
	Request string `json:"request,omitempty"`
	Source  string `json:"source,omitempty"`
	Muted   *bool  `json:"muted,omitempty"`
	Visible *bool  `json:"visible,omitempty"`
}

// ErrorPayload reports a rejected message.
type ErrorPayload struct {
	For     string `json:"for"`
	Message string `json:"message"`
}

// AckMessage acknowledges an accepted message.
type AckMessage struct {
	For string `json:"for"`
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func decodePayload[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("%s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%s: %w", env.Type, err)
	}
	return v, nil
}
