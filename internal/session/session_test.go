package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/coordinator"
	"github.com/eternity-ar/arcoord/internal/geo"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/media"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/playback"
	"github.com/eternity-ar/arcoord/internal/qod"
	"github.com/eternity-ar/arcoord/internal/storage/memory"
	"github.com/eternity-ar/arcoord/internal/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var opera = geo.Fence{Latitude: -33.8568, Longitude: 151.2153, RadiusMeters: 100}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.PointOfInterest{
		{ID: "hiro", MediaSource: "videos/hiro.mp4", Trigger: catalog.Trigger{Kind: catalog.TriggerPresetMarker, Preset: "hiro"}},
		{ID: "pattern", MediaSource: "./videos//pattern.mp4", Trigger: catalog.Trigger{Kind: catalog.TriggerPatternMarker, PatternURL: "markers/pattern.patt"}},
		{ID: "silent", MediaSource: "  ", Trigger: catalog.Trigger{Kind: catalog.TriggerBarcodeMarker, BarcodeValue: 5}},
		{ID: "poster", MediaSource: "videos/poster.mp4", Trigger: catalog.Trigger{Kind: catalog.TriggerImageTarget, ImageTargetURL: "nft/poster"}},
		{ID: "opera", MediaSource: "videos/opera.mp4", Trigger: catalog.Trigger{Kind: catalog.TriggerGeofence, Fence: opera}},
	})
	require.NoError(t, err)
	return c
}

type fixture struct {
	clock   *loop.Manual
	counter *metrics.Counter
	store   *memory.Backend
	overlay *media.Simulated
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := loop.NewManual(epoch)
	f := &fixture{
		clock:   clock,
		counter: metrics.NewCounter(),
		store:   memory.New(),
		overlay: media.NewSimulated("overlay", clock),
	}
	f.deps = Deps{
		Sched:     clock,
		Factory:   media.NewSimulatedFactory(clock),
		Overlay:   f.overlay,
		Metrics:   f.counter,
		Store:     f.store,
		Readiness: config.ReadinessConfig{Attempts: 40, Interval: 75 * time.Millisecond},
		Playback:  playback.DefaultConfig(),
		Logger:    logging.Discard(),
	}
	return f
}

func poiIDs(pois []catalog.PointOfInterest) []string {
	var ids []string
	for _, p := range pois {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestParsePageKind(t *testing.T) {
	for _, k := range PageKinds {
		got, err := ParsePageKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParsePageKind("ar-hologram")
	assert.Error(t, err)
}

func TestPageKind_Select(t *testing.T) {
	c := testCatalog(t)
	tests := []struct {
		kind PageKind
		want []string
	}{
		{PageMarker, []string{"hiro", "pattern"}},
		{PageImage, []string{"poster"}},
		{PageLocation, []string{"opera"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, poiIDs(tt.kind.Select(c)))
		})
	}
}

func TestStart_RecordsVisitAndWiresWhenReady(t *testing.T) {
	f := newFixture(t)
	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	assert.NotEmpty(t, s.ID())
	assert.True(t, s.Wired())
	assert.True(t, s.RuntimeReady())
	assert.Equal(t, int64(1), f.counter.Snapshot().Get(metrics.Visits, "ar-marker"))
	assert.Nil(t, s.QoDDone())
}

func TestStart_SignalsBeforeWiringAreDropped(t *testing.T) {
	f := newFixture(t)
	ready := false
	f.deps.Probe = func() bool { return ready }

	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	assert.False(t, s.Wired())
	err := s.Found("hiro")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, trigger.ErrSignalDropped)

	ready = true
	f.clock.Advance(75 * time.Millisecond)
	require.True(t, s.Wired())
	assert.True(t, s.RuntimeReady())

	require.NoError(t, s.Found("hiro"))
	st, _ := s.Coordinator().State("hiro")
	assert.Equal(t, coordinator.Active, st.Phase)
}

func TestStart_ReadinessTimeoutStillWires(t *testing.T) {
	f := newFixture(t)
	f.deps.Probe = func() bool { return false }

	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	f.clock.Advance(3*time.Second - time.Millisecond)
	assert.False(t, s.Wired())

	f.clock.Advance(time.Millisecond)
	assert.True(t, s.Wired())
	assert.False(t, s.RuntimeReady())
}

func TestSession_MarkerFoundPlaysAndLostStops(t *testing.T) {
	f := newFixture(t)
	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	require.NoError(t, s.Found("hiro"))
	f.clock.Advance(time.Second)

	snap := f.counter.Snapshot()
	assert.Equal(t, int64(1), snap.Get(metrics.AttractionViews, "hiro"))
	assert.Equal(t, int64(1), snap.Get(metrics.VideoPlays, "hiro"))
	assert.True(t, f.overlay.Visible())
	assert.Equal(t, "/videos/hiro.mp4", f.overlay.Source())

	require.NoError(t, s.Lost("hiro"))
	assert.False(t, f.overlay.Visible())
	assert.Empty(t, s.Coordinator().Active())

	assert.ErrorIs(t, s.Found("poster"), trigger.ErrSignalDropped)
}

func TestSession_Markers(t *testing.T) {
	f := newFixture(t)
	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	markers := s.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, "hiro", markers[0].Ref)
	assert.Equal(t, "preset", markers[0].Descriptor.Type)
	assert.Equal(t, "hiro", markers[0].Descriptor.Value)
	assert.Equal(t, "pattern", markers[1].POI)
	assert.Equal(t, "/markers/pattern.patt", markers[1].Descriptor.URL)
}

func TestSession_BindBeforeAndAfterWiring(t *testing.T) {
	f := newFixture(t)
	ready := false
	f.deps.Probe = func() bool { return ready }

	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	require.NoError(t, s.Bind("marker-0", "hiro"))
	assert.ErrorIs(t, s.Bind("marker-9", "ghost"), coordinator.ErrUnknownPOI)

	ready = true
	f.clock.Advance(75 * time.Millisecond)
	require.NoError(t, s.Found("marker-0"))
	assert.Equal(t, []string{"hiro"}, s.Coordinator().Active())

	require.NoError(t, s.Bind("marker-1", "pattern"))
	require.NoError(t, s.Found("marker-1"))
	assert.ElementsMatch(t, []string{"hiro", "pattern"}, s.Coordinator().Active())
}

func TestSession_LocationResumesFromCachedPosition(t *testing.T) {
	f := newFixture(t)
	inside := geo.Offset(opera.Center(), 20, 90)
	raw, err := json.Marshal(trigger.StoredPosition{Latitude: inside.Latitude, Longitude: inside.Longitude})
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), trigger.DefaultPositionKey, raw))

	s := Start(context.Background(), PageLocation, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	assert.Equal(t, []string{"opera"}, s.Coordinator().Active())
	assert.Equal(t, int64(1), f.counter.Snapshot().Get(metrics.Visits, "ar-location"))
}

func TestSession_PositionUpdates(t *testing.T) {
	f := newFixture(t)
	s := Start(context.Background(), PageLocation, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	in := geo.Offset(opera.Center(), 50, 0)
	require.NoError(t, s.PositionUpdate(in.Latitude, in.Longitude))
	assert.Equal(t, []string{"opera"}, s.Coordinator().Active())

	out := geo.Offset(opera.Center(), 200, 0)
	require.NoError(t, s.PositionUpdate(out.Latitude, out.Longitude))
	assert.Empty(t, s.Coordinator().Active())

	raw, ok, err := f.store.Get(context.Background(), trigger.DefaultPositionKey)
	require.NoError(t, err)
	require.True(t, ok)
	var cached trigger.StoredPosition
	require.NoError(t, json.Unmarshal(raw, &cached))
	assert.InDelta(t, out.Latitude, cached.Latitude, 1e-9)
}

func TestSession_QoDIssuedOnStart(t *testing.T) {
	f := newFixture(t)
	f.deps.QoD = qod.Mock{}

	s := Start(context.Background(), PageImage, testCatalog(t), f.deps)
	t.Cleanup(s.Close)

	done := s.QoDDone()
	require.NotNil(t, done)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("QoD request did not finish")
	}
}

func TestSession_Close(t *testing.T) {
	f := newFixture(t)
	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)

	require.NoError(t, s.Found("hiro"))
	s.Close()
	s.Close()

	assert.False(t, s.Wired())
	assert.Empty(t, s.Coordinator().Active())
	assert.ErrorIs(t, s.Found("hiro"), ErrClosed)
	assert.ErrorIs(t, s.PositionUpdate(0, 0), ErrClosed)
}

func TestSession_CloseBeforeWiringSuppressesWiring(t *testing.T) {
	f := newFixture(t)
	f.deps.Probe = func() bool { return false }

	s := Start(context.Background(), PageMarker, testCatalog(t), f.deps)
	s.Close()

	f.clock.Advance(5 * time.Second)
	assert.False(t, s.Wired())
	assert.Zero(t, f.clock.Pending())
}
