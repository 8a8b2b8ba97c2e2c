package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/media"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/playback"
	"github.com/eternity-ar/arcoord/internal/session"
	"github.com/eternity-ar/arcoord/internal/storage"
	"github.com/eternity-ar/arcoord/internal/storage/memory"
	"github.com/eternity-ar/arcoord/internal/trigger"
)

// Epoch is the virtual start time of every replay.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Dependencies holds all dependencies for a replay. Metrics and Store are
// optional; a replay without them counts into a fresh Counter and keeps the
// cached position in memory. Zero Readiness and Playback use the stock timings.
type Dependencies struct {
	Catalog     *catalog.Catalog
	Metrics     metrics.Recorder
	Store       storage.Backend
	PositionKey string
	Readiness   config.ReadinessConfig
	Playback    playback.Config
	Logger      *slog.Logger
}

// StepResult is the outcome of one script step.
type StepResult struct {
	At     time.Duration `yaml:"at" json:"at"`
	Signal string        `yaml:"signal" json:"signal"`
	Target string        `yaml:"target" json:"target"`
	Error  string        `yaml:"error,omitempty" json:"error,omitempty"`
	Active []string      `yaml:"active" json:"active"`
}

// SurfaceState is a simulated surface at the end of the replay.
type SurfaceState struct {
	ID       string        `yaml:"id" json:"id"`
	Source   string        `yaml:"source" json:"source"`
	Playing  bool          `yaml:"playing" json:"playing"`
	Muted    bool          `yaml:"muted" json:"muted"`
	Visible  bool          `yaml:"visible" json:"visible"`
	Position time.Duration `yaml:"position" json:"position"`
	Plays    int           `yaml:"plays" json:"plays"`
}

// Report summarizes a replay.
type Report struct {
	Session      string            `yaml:"session" json:"session"`
	Page         string            `yaml:"page" json:"page"`
	POIs         []string          `yaml:"pois" json:"pois"`
	RuntimeReady bool              `yaml:"runtimeReady" json:"runtimeReady"`
	WiredAt      *time.Duration    `yaml:"wiredAt,omitempty" json:"wiredAt,omitempty"`
	Steps        []StepResult      `yaml:"steps" json:"steps"`
	Active       []string          `yaml:"active" json:"active"`
	Surfaces     []SurfaceState    `yaml:"surfaces" json:"surfaces"`
	Metrics      *metrics.Snapshot `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// Run replays s to completion on a virtual clock and reports what happened.
func Run(ctx context.Context, s *Script, deps Dependencies) (*Report, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	kind, _ := session.ParsePageKind(s.Page)
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	policy, _ := s.policy()

	clock := loop.NewManual(Epoch)
	opts := []media.SimulatedOption{media.WithPolicy(policy), media.WithLatency(s.Latency)}
	surfaces := media.NewSimulatedFactory(clock, opts...)
	overlay := media.NewSimulated("overlay", clock, opts...)

	var counter *metrics.Counter
	recorder := deps.Metrics
	if recorder == nil {
		counter = metrics.NewCounter()
		recorder = counter
	}
	store := deps.Store
	if store == nil {
		store = memory.New()
	}
	readiness := deps.Readiness
	if readiness.Attempts <= 0 || readiness.Interval <= 0 {
		readiness = config.ReadinessConfig{Attempts: 40, Interval: 75 * time.Millisecond}
	}
	pb := deps.Playback
	if len(pb.RetryDelays) == 0 {
		pb = playback.DefaultConfig()
	}
	key := deps.PositionKey
	if key == "" {
		key = trigger.DefaultPositionKey
	}

	if s.CachedPosition != nil {
		raw, err := json.Marshal(trigger.StoredPosition{Latitude: s.CachedPosition.Latitude, Longitude: s.CachedPosition.Longitude})
		if err != nil {
			return nil, err
		}
		if err := store.Set(ctx, key, raw); err != nil {
			return nil, fmt.Errorf("seeding cached position: %w", err)
		}
	}

	probe := func() bool {
		return s.RuntimeReadyAfter >= 0 && !clock.Now().Before(Epoch.Add(s.RuntimeReadyAfter))
	}

	sess := session.Start(ctx, kind, deps.Catalog, session.Deps{
		Sched:       clock,
		Factory:     surfaces,
		Overlay:     overlay,
		Metrics:     recorder,
		Store:       store,
		Probe:       probe,
		Readiness:   readiness,
		Playback:    pb,
		PositionKey: key,
		Logger:      logger,
	})

	report := &Report{Session: sess.ID(), Page: string(kind)}
	for _, p := range sess.POIs() {
		report.POIs = append(report.POIs, p.ID)
	}
	sess.OnWired(func() {
		at := clock.Now().Sub(Epoch)
		report.WiredAt = &at
	})

	for _, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			sess.Close()
			return nil, err
		}
		if d := Epoch.Add(step.At).Sub(clock.Now()); d > 0 {
			clock.Advance(d)
		}
		res := StepResult{At: step.At, Signal: step.Signal()}
		var err error
		switch res.Signal {
		case "found":
			res.Target = step.Found
			err = sess.Found(step.Found)
		case "lost":
			res.Target = step.Lost
			err = sess.Lost(step.Lost)
		case "position":
			res.Target = fmt.Sprintf("%f,%f", step.Position.Latitude, step.Position.Longitude)
			err = sess.PositionUpdate(step.Position.Latitude, step.Position.Longitude)
		case "event":
			res.Target = step.Event.Handle + ":" + step.Event.Name
			err = fire(surfaces, overlay, step.Event)
		}
		if err != nil {
			res.Error = err.Error()
		}
		clock.Flush()
		res.Active = sess.Coordinator().Active()
		report.Steps = append(report.Steps, res)
	}
	clock.Advance(s.Settle)
	// A runtime that never reports ready still gets wired once the readiness
	// budget runs out; keep the clock going until then.
	deadline := Epoch.Add(time.Duration(readiness.Attempts) * readiness.Interval)
	if d := deadline.Sub(clock.Now()); !sess.Wired() && d > 0 {
		clock.Advance(d)
	}

	report.RuntimeReady = sess.RuntimeReady()
	report.Active = sess.Coordinator().Active()
	report.Surfaces = append(report.Surfaces, surfaceState(overlay))
	ids := make([]string, 0, len(surfaces.Created))
	for id := range surfaces.Created {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		report.Surfaces = append(report.Surfaces, surfaceState(surfaces.Created[id]))
	}
	if counter != nil {
		snap := counter.Snapshot()
		report.Metrics = &snap
	}

	sess.Close()
	return report, nil
}

func fire(surfaces *media.SimulatedFactory, overlay *media.Simulated, e *Event) error {
	ev, err := media.ParseReadyEvent(e.Name)
	if err != nil {
		return err
	}
	h := overlay
	if e.Handle != overlay.ID() {
		var ok bool
		if h, ok = surfaces.Created[e.Handle]; !ok {
			return fmt.Errorf("no surface %q", e.Handle)
		}
	}
	h.Fire(ev)
	return nil
}

func surfaceState(h *media.Simulated) SurfaceState {
	return SurfaceState{
		ID:       h.ID(),
		Source:   h.Source(),
		Playing:  h.Playing(),
		Muted:    h.Muted(),
		Visible:  h.Visible(),
		Position: h.Position(),
		Plays:    h.Count("play") + h.Count("play muted"),
	}
}
