package coordinator

import (
	"testing"
	"time"

	"github.com/eternity-ar/arcoord/internal/assets"
	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/media"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func marker(id, src string) catalog.PointOfInterest {
	return catalog.PointOfInterest{
		ID:          id,
		Name:        id,
		MediaSource: src,
		Trigger:     catalog.Trigger{Kind: catalog.TriggerPresetMarker, Preset: "hiro"},
	}
}

type fixture struct {
	clock   *loop.Manual
	surface *media.SimulatedFactory
	loader  *assets.Loader
	ctrl    *playback.Controller
	overlay *media.Simulated
	counter *metrics.Counter
	coord   *Coordinator
}

func newFixture(t *testing.T, opts ...media.SimulatedOption) *fixture {
	t.Helper()
	clock := loop.NewManual(epoch)
	logger := logging.Discard()
	f := &fixture{
		clock:   clock,
		surface: media.NewSimulatedFactory(clock, opts...),
		overlay: media.NewSimulated("overlay", clock, opts...),
		counter: metrics.NewCounter(),
	}
	f.loader = assets.NewLoader(f.surface, logger)
	f.ctrl = playback.NewController(clock, playback.DefaultConfig(), logger)
	f.coord = New([]catalog.PointOfInterest{
		marker("opera", "videos/opera.mp4"),
		marker("bridge", "https://cdn.example.com/bridge.mp4"),
		marker("broken", "   "),
	}, Deps{
		Loader:   f.loader,
		Playback: f.ctrl,
		Overlay:  f.overlay,
		Metrics:  f.counter,
		Logger:   logger,
	})
	return f
}

func (f *fixture) phase(t *testing.T, id string) Phase {
	t.Helper()
	st, ok := f.coord.State(id)
	require.True(t, ok)
	return st.Phase
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from     Phase
		sig      Signal
		wantNext Phase
		wantAct  action
	}{
		{Idle, Activate, Active, actStart},
		{Idle, Deactivate, Idle, actNone},
		{Loaded, Activate, Active, actStart},
		{Loaded, Deactivate, Loaded, actNone},
		{Active, Activate, Active, actRestart},
		{Active, Deactivate, Loaded, actStop},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.sig.String(), func(t *testing.T) {
			next, act := transition(tt.from, tt.sig)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantAct, act)
		})
	}
}

func TestActivate_FromIdleLoadsAndPlays(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coord.Activate("opera"))
	f.clock.Flush()

	st, _ := f.coord.State("opera")
	assert.Equal(t, State{Phase: Active, Loaded: true}, st)

	primary := f.surface.Created["opera"]
	require.NotNil(t, primary)
	assert.Equal(t, "/videos/opera.mp4", primary.Source())
	assert.True(t, primary.Playing())
	assert.True(t, f.overlay.Playing())
	assert.True(t, f.overlay.Visible())
	assert.Equal(t, "/videos/opera.mp4", f.overlay.Source())

	s := f.counter.Snapshot()
	assert.Equal(t, int64(1), s.AttractionViews["opera"])
	assert.Equal(t, int64(1), s.VideoPlays["opera"])
	assert.Equal(t, []string{"opera"}, f.coord.Active())
}

func TestActivate_WhileActiveRestartsFromZero(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.Activate("opera"))
	f.clock.Flush()

	primary := f.surface.Created["opera"]
	f.clock.Advance(5 * time.Second)
	require.Equal(t, 5*time.Second, primary.Position())

	first, _ := f.ctrl.Live("opera")
	require.NoError(t, f.coord.Activate("opera"))

	assert.Zero(t, primary.Position())
	assert.True(t, first.Disposed())
	assert.Equal(t, 1, f.ctrl.LiveCount())

	f.clock.Flush()
	assert.True(t, primary.Playing())
	assert.Equal(t, Active, f.phase(t, "opera"))
	assert.Equal(t, 1, f.loader.Resolutions(), "restart must not reload")

	s := f.counter.Snapshot()
	assert.Equal(t, int64(2), s.AttractionViews["opera"])
	assert.Equal(t, int64(2), s.VideoPlays["opera"])
}

func TestActivate_FoundTwiceKeepsOneLiveSession(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		require.NoError(t, f.coord.Activate("opera"))
		assert.Equal(t, 1, f.ctrl.LiveCount())
		assert.Zero(t, f.surface.Created["opera"].Position())
		f.clock.Advance(50 * time.Millisecond)
		assert.Equal(t, 1, f.ctrl.LiveCount())
	}
	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.surface.Created["opera"].Count("rewind"))
	assert.Equal(t, int64(2), f.counter.Snapshot().AttractionViews["opera"])
}

func TestDeactivate_StopsRewindsAndHides(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.Activate("opera"))
	f.clock.Flush()
	f.clock.Advance(2 * time.Second)

	require.NoError(t, f.coord.Deactivate("opera"))

	primary := f.surface.Created["opera"]
	assert.False(t, primary.Playing())
	assert.Zero(t, primary.Position())
	assert.False(t, f.overlay.Playing())
	assert.False(t, f.overlay.Visible())
	assert.Equal(t, 0, f.ctrl.LiveCount())
	assert.Equal(t, 0, primary.Listeners())

	st, _ := f.coord.State("opera")
	assert.Equal(t, State{Phase: Loaded, Loaded: true}, st)

	// later timers do nothing
	f.clock.Advance(time.Minute)
	assert.False(t, primary.Playing())

	// re-activation skips the load step
	require.NoError(t, f.coord.Activate("opera"))
	f.clock.Flush()
	assert.Equal(t, 1, f.loader.Resolutions())
	assert.True(t, primary.Playing())
}

func TestDeactivate_NotActiveIsNoop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coord.Deactivate("opera"))
	assert.Equal(t, Idle, f.phase(t, "opera"))
	assert.Nil(t, f.surface.Created["opera"])

	require.NoError(t, f.coord.Activate("opera"))
	require.NoError(t, f.coord.Deactivate("opera"))
	require.NoError(t, f.coord.Deactivate("opera"))
	assert.Equal(t, Loaded, f.phase(t, "opera"))
	assert.Equal(t, 1, f.surface.Created["opera"].Count("pause"))
}

func TestActivate_UnknownPOI(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.coord.Activate("missing"), ErrUnknownPOI)
	assert.ErrorIs(t, f.coord.Deactivate("missing"), ErrUnknownPOI)
	_, ok := f.coord.State("missing")
	assert.False(t, ok)
	assert.Empty(t, f.counter.Snapshot().AttractionViews)
}

func TestActivate_UnresolvedAssetStaysIdle(t *testing.T) {
	f := newFixture(t)

	err := f.coord.Activate("broken")
	assert.ErrorIs(t, err, assets.ErrAssetUnresolved)
	assert.Equal(t, Idle, f.phase(t, "broken"))
	assert.Equal(t, 0, f.ctrl.LiveCount())
	assert.Equal(t, int64(1), f.counter.Snapshot().AttractionViews["broken"])

	f.clock.Flush()
	assert.Zero(t, f.counter.Snapshot().VideoPlays["broken"])
}

func TestActivate_AutoplayBlockedStillRecordsOnePlay(t *testing.T) {
	f := newFixture(t, media.WithPolicy(media.BlockUnmuted))

	require.NoError(t, f.coord.Activate("opera"))
	f.clock.Advance(time.Second)

	primary := f.surface.Created["opera"]
	assert.True(t, primary.Playing())
	assert.False(t, primary.Muted(), "unmuted after the muted start")
	assert.Equal(t, int64(1), f.counter.Snapshot().VideoPlays["opera"])
}

func TestSharedOverlay_DeactivatingPreviousOwnerLeavesItAlone(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coord.Activate("opera"))
	f.clock.Flush()
	require.NoError(t, f.coord.Activate("bridge"))
	f.clock.Flush()

	assert.Equal(t, "https://cdn.example.com/bridge.mp4", f.overlay.Source())
	require.NoError(t, f.coord.Deactivate("opera"))

	assert.True(t, f.overlay.Visible())
	assert.True(t, f.overlay.Playing())
	assert.True(t, f.surface.Created["bridge"].Playing())
	assert.Equal(t, []string{"bridge"}, f.coord.Active())

	require.NoError(t, f.coord.Deactivate("bridge"))
	assert.False(t, f.overlay.Visible())
}

func TestTeardown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.Activate("opera"))
	require.NoError(t, f.coord.Activate("bridge"))

	f.coord.Teardown()
	f.coord.Teardown()

	assert.Equal(t, 0, f.ctrl.LiveCount())
	assert.Empty(t, f.coord.Active())
	assert.Equal(t, Loaded, f.phase(t, "opera"))

	f.clock.Flush()
	assert.False(t, f.surface.Created["opera"].Playing())
	assert.False(t, f.surface.Created["bridge"].Playing())
	assert.Zero(t, f.counter.Snapshot().VideoPlays["opera"])

	assert.ErrorIs(t, f.coord.Activate("opera"), ErrTornDown)
	assert.ErrorIs(t, f.coord.Deactivate("opera"), ErrTornDown)
}

func TestPOIs_CatalogOrder(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for _, p := range f.coord.POIs() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"opera", "bridge", "broken"}, ids)
}
