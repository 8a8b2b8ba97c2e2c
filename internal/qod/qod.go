// Package qod asks the network operator for a quality-on-demand session when
// an AR page opens. Requests are fire-and-forget: failures are logged and
// never affect playback.
package qod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Scope is the OAuth scope requested for the session API.
const Scope = "quality-on-demand"

// MockSessionID is returned by Mock.
const MockSessionID = "mock-session"

// Request describes the session to open.
type Request struct {
	PhoneNumber string
	ProfileID   string
	Duration    time.Duration
}

// RequestFromConfig builds the request from the qod settings.
func RequestFromConfig(cfg config.QoDConfig) Request {
	return Request{PhoneNumber: cfg.PhoneNumber, ProfileID: cfg.ProfileID, Duration: cfg.Duration}
}

// Session is the operator's answer.
type Session struct {
	ID   string `json:"sessionId"`
	Mock bool   `json:"-"`
}

// Requester opens quality-on-demand sessions.
type Requester interface {
	Request(ctx context.Context, req Request) (Session, error)
}

// Mock answers every request with MockSessionID.
type Mock struct{}

func (Mock) Request(context.Context, Request) (Session, error) {
	return Session{ID: MockSessionID, Mock: true}, nil
}

type duration struct {
	Amount int    `json:"amount"`
	Unit   string `json:"unit"`
}

type sessionBody struct {
	PhoneNumber string   `json:"phoneNumber"`
	ProfileID   string   `json:"profileId"`
	Duration    duration `json:"duration"`
}

// Client calls the operator's session API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	correlator func() string
}

// NewClient creates an HTTP client for cfg.Endpoint. Authorization comes from
// the client-credentials grant when cfg.ClientID is set, or from cfg.Token.
func NewClient(cfg config.QoDConfig) *Client {
	base := &http.Client{Timeout: 10 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	var hc *http.Client
	switch {
	case cfg.ClientID != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{Scope},
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		hc = cc.Client(ctx)
	case cfg.Token != "":
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}))
	default:
		hc = base
	}
	hc.Timeout = base.Timeout

	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: hc,
		correlator: newCorrelator,
	}
}

func newCorrelator() string {
	return fmt.Sprintf("arcoord-%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// Request posts the session request and decodes the session id.
func (c *Client) Request(ctx context.Context, req Request) (Session, error) {
	minutes := int(req.Duration / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	body, err := json.Marshal(sessionBody{
		PhoneNumber: req.PhoneNumber,
		ProfileID:   req.ProfileID,
		Duration:    duration{Amount: minutes, Unit: "MINUTE"},
	})
	if err != nil {
		return Session{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-correlator", c.correlator())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("qod request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Session{}, fmt.Errorf("qod request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, fmt.Errorf("decoding qod session: %w", err)
	}
	return s, nil
}

// New returns the requester for cfg: Mock when no endpoint is configured.
func New(cfg config.QoDConfig) Requester {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return Mock{}
	}
	return NewClient(cfg)
}

// Start issues req in the background. The returned channel is closed once the
// outcome has been logged.
func Start(ctx context.Context, r Requester, req Request, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s, err := r.Request(ctx, req)
		if err != nil {
			logger.Warn("failed to start QoD session", "profile", req.ProfileID, "error", err)
			return
		}
		if s.Mock {
			logger.Info("QoD unavailable, using demo mode", "session", s.ID)
			return
		}
		logger.Info("QoD session started", "session", s.ID, "profile", req.ProfileID)
	}()
	return done
}
