package metrics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/dispatcher"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/storage/memory"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type pointRecorder struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
	err    error
}

func (p *pointRecorder) WritePoint(pt *influxdb2_write.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, pt)
	return p.err
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("clicks")
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	c.RecordVisit("ar-marker")
	c.RecordVisit("ar-marker")
	c.RecordAttractionView("opera")
	c.RecordVideoPlay("opera")
	require.NoError(t, c.Record(context.Background(), Event{Kind: VideoPlays, Key: "opera"}))

	s := c.Snapshot()
	assert.Equal(t, map[string]int64{"ar-marker": 2}, s.Visits)
	assert.Equal(t, map[string]int64{"opera": 1}, s.AttractionViews)
	assert.Equal(t, int64(2), s.Get(VideoPlays, "opera"))
	assert.Zero(t, s.Get(VideoPlays, "bridge"))

	// snapshot is a copy
	s.Visits["ar-marker"] = 99
	assert.Equal(t, int64(2), c.Snapshot().Visits["ar-marker"])
}

func TestMulti_TriesEverySink(t *testing.T) {
	var calls int
	failing := SinkFunc(func(context.Context, Event) error { calls++; return errors.New("boom") })
	counter := NewCounter()

	err := Multi{failing, counter, failing}.Record(context.Background(), Event{Kind: Visits, Key: "p"})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), counter.Snapshot().Visits["p"])
}

func TestDirect_LogsSinkErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	d := NewDirect(SinkFunc(func(context.Context, Event) error { return errors.New("offline") }), logger)

	d.RecordVideoPlay("opera")
	assert.Contains(t, buf.String(), "metric not recorded")
	assert.Contains(t, buf.String(), "metric=videoPlays")
	assert.Contains(t, buf.String(), "key=opera")
}

func TestOTelSink(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	s, err := NewOTelSink(provider.Meter("test"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Event{Kind: AttractionViews, Key: "opera"}))
	require.NoError(t, s.Record(ctx, Event{Kind: AttractionViews, Key: "opera"}))
	assert.Error(t, s.Record(ctx, Event{Kind: "clicks", Key: "x"}))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var found bool
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name != "arcoord.attraction.views" {
			continue
		}
		found = true
		sum, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		assert.Equal(t, int64(2), sum.DataPoints[0].Value)
		v, _ := sum.DataPoints[0].Attributes.Value("poi")
		assert.Equal(t, "opera", v.AsString())
	}
	assert.True(t, found)
}

func TestInfluxSink(t *testing.T) {
	w := &pointRecorder{}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewInfluxSink(w, func() time.Time { return at })

	require.NoError(t, s.Record(context.Background(), Event{Kind: Visits, Key: "ar-location"}))
	require.Len(t, w.points, 1)

	line := influxdb2_write.PointToLineProtocol(w.points[0], time.Nanosecond)
	assert.Contains(t, line, "engagement,")
	assert.Contains(t, line, "kind=visits")
	assert.Contains(t, line, "key=ar-location")
	assert.Contains(t, line, "count=1i")

	w.err = errors.New("full")
	assert.Error(t, s.Record(context.Background(), Event{Kind: Visits, Key: "x"}))
}

func TestStoreSink_PersistsAndLoads(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := NewStoreSink(b)

	require.NoError(t, s.Record(ctx, Event{Kind: AttractionViews, Key: "opera"}))
	require.NoError(t, s.Record(ctx, Event{Kind: AttractionViews, Key: "opera"}))
	require.NoError(t, s.Record(ctx, Event{Kind: Visits, Key: "ar-marker"}))

	totals, err := b.Counters(ctx, "attractionViews")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"opera": 2}, totals)

	c, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Snapshot().AttractionViews["opera"])
	assert.Equal(t, int64(1), c.Snapshot().Visits["ar-marker"])
}

func TestAsync_DeliversThroughDispatcher(t *testing.T) {
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)

	counter := NewCounter()
	a := NewAsync(d, counter, 16, logging.Discard())
	assert.True(t, d.HasHandler(JobRecord))

	a.RecordVisit("ar-image")
	a.RecordAttractionView("bridge")
	a.RecordVideoPlay("bridge")
	d.Close()

	s := counter.Snapshot()
	assert.Equal(t, int64(1), s.Visits["ar-image"])
	assert.Equal(t, int64(1), s.AttractionViews["bridge"])
	assert.Equal(t, int64(1), s.VideoPlays["bridge"])
}

func TestAsync_LogsDroppedAfterClose(t *testing.T) {
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	var buf bytes.Buffer
	a := NewAsync(d, NewCounter(), 1, slog.New(slog.NewTextHandler(&buf, nil)))
	d.Close()

	a.RecordVisit("ar-marker")
	assert.Contains(t, buf.String(), "metric dropped")
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("memory only", func(t *testing.T) {
		rec, counter, err := Build(ctx, config.MetricsConfig{Sinks: []string{"memory"}}, Deps{})
		require.NoError(t, err)
		require.NotNil(t, counter)
		rec.RecordVisit("ar-marker")
		assert.Equal(t, int64(1), counter.Snapshot().Visits["ar-marker"])
	})

	t.Run("memory seeded from storage", func(t *testing.T) {
		b := memory.New()
		_, err := b.IncrementCounter(ctx, "videoPlays", "opera", 3)
		require.NoError(t, err)

		rec, counter, err := Build(ctx, config.MetricsConfig{Sinks: []string{"memory", "storage"}}, Deps{Store: b})
		require.NoError(t, err)
		rec.RecordVideoPlay("opera")

		assert.Equal(t, int64(4), counter.Snapshot().VideoPlays["opera"])
		totals, _ := b.Counters(ctx, "videoPlays")
		assert.Equal(t, int64(4), totals["opera"])
	})

	t.Run("influx without counter", func(t *testing.T) {
		w := &pointRecorder{}
		rec, counter, err := Build(ctx, config.MetricsConfig{Sinks: []string{"influx"}}, Deps{Influx: w})
		require.NoError(t, err)
		assert.Nil(t, counter)
		rec.RecordAttractionView("opera")
		assert.Len(t, w.points, 1)
	})

	t.Run("async", func(t *testing.T) {
		d, err := dispatcher.New(nopLogger{})
		require.NoError(t, err)
		rec, counter, err := Build(ctx, config.MetricsConfig{Sinks: []string{"memory"}, BufferSize: 8}, Deps{Dispatcher: d})
		require.NoError(t, err)
		assert.IsType(t, &Async{}, rec)
		rec.RecordVisit("ar-location")
		d.Close()
		assert.Equal(t, int64(1), counter.Snapshot().Visits["ar-location"])
	})

	errCases := []struct {
		name  string
		sinks []string
	}{
		{name: "unknown", sinks: []string{"statsd"}},
		{name: "otel without meter", sinks: []string{"otel"}},
		{name: "influx without writer", sinks: []string{"influx"}},
		{name: "storage without backend", sinks: []string{"storage"}},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Build(ctx, config.MetricsConfig{Sinks: tt.sinks}, Deps{})
			assert.Error(t, err)
		})
	}
}
