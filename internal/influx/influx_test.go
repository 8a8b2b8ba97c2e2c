package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable() Config {
	return Config{URL: "http://127.0.0.1:1", Org: "eternity", Bucket: "arcoord"}
}

func TestConnect_FallsBackToBackupFile(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "metrics.lp.gz")
	m := NewManager(unreachable(), zerolog.Nop(), backup)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)

	p := influxdb2.NewPoint("arcoord_metrics",
		map[string]string{"counter": "video_play", "key": "opera"},
		map[string]any{"value": 1},
		time.Unix(1700000000, 0))
	require.NoError(t, m.WritePoint(p))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	line := string(data)
	assert.True(t, strings.HasPrefix(line, "arcoord_metrics,counter=video_play,key=opera value=1i"), line)
	assert.True(t, strings.HasSuffix(line, "1700000000000000000\n"), line)
}

func TestConnect_NoBackupPathIsError(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, m.Connect(ctx))
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	err := m.WritePoint(influxdb2.NewPointWithMeasurement("x").AddField("v", 1))
	assert.Error(t, err)
	assert.NoError(t, m.Close())
}

func TestClose_Idempotent(t *testing.T) {
	var logs bytes.Buffer
	backup := filepath.Join(t.TempDir(), "metrics.lp.gz")
	m := NewManager(unreachable(), zerolog.New(&logs), backup)
	require.NoError(t, m.Connect(context.Background()))

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
	assert.Contains(t, logs.String(), "backup file")
}
