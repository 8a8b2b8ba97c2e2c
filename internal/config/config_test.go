package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"storage": { "type": "sqlite", "sqlite": { "path": "/tmp/a.db" } }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "sqlite", viper.GetString("storage.type"))
	assert.Equal(t, "/tmp/a.db", viper.GetString("storage.sqlite.path"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "eternity.lastPosition", viper.GetString("storage.positionKey"))
	assert.Equal(t, ":8080", viper.GetString("server.address"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "arcoord", viper.GetString("otel.serviceName"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// defaults are still registered
	assert.Equal(t, 40, GetReadinessConfig().Attempts)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetGeofenceConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := GetGeofenceConfig()
	assert.Equal(t, 120.0, cfg.DefaultRadiusMeters)
}

func TestGetPlaybackConfig(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		delays []time.Duration
		unmute time.Duration
	}{
		{
			name:   "defaults",
			body:   `{}`,
			delays: []time.Duration{0, 160 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
			unmute: 180 * time.Millisecond,
		},
		{
			name:   "duration strings",
			body:   `{"playback": {"retryDelays": ["50ms", "1s"], "unmuteDelay": "150ms"}}`,
			delays: []time.Duration{50 * time.Millisecond, time.Second},
			unmute: 150 * time.Millisecond,
		},
		{
			name:   "bare milliseconds",
			body:   `{"playback": {"retryDelays": [0, 250]}}`,
			delays: []time.Duration{0, 250 * time.Millisecond},
			unmute: 180 * time.Millisecond,
		},
		{
			name:   "bad entries skipped",
			body:   `{"playback": {"retryDelays": ["soon", "-5ms", "10ms"]}}`,
			delays: []time.Duration{10 * time.Millisecond},
			unmute: 180 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))

			cfg := GetPlaybackConfig()
			assert.Equal(t, tt.delays, cfg.RetryDelays)
			assert.Equal(t, tt.unmute, cfg.UnmuteDelay)
		})
	}
}

func TestGetReadinessConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetReadinessConfig()
	assert.Equal(t, 40, cfg.Attempts)
	assert.Equal(t, 75*time.Millisecond, cfg.Interval)
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "eternity.lastPosition", cfg.PositionKey)
	assert.Equal(t, "./arcoord.db", cfg.SQLite.Path)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "arcoord:", cfg.Redis.Prefix)
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=arcoord sslmode=disable",
		cfg.Postgres.DSN())
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "redis",
			"positionKey": "custom.key",
			"redis": { "address": "cache:6380", "db": 3 }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "redis", sc.Type)
	assert.Equal(t, "custom.key", sc.PositionKey)
	assert.Equal(t, "cache:6380", sc.Redis.Address)
	assert.Equal(t, 3, sc.Redis.DB)
}

func TestGetMetricsConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"metrics": { "sinks": ["memory", "influx"], "influx": { "bucket": "tours" } }
	}`)))

	mc := GetMetricsConfig()
	assert.Equal(t, []string{"memory", "influx"}, mc.Sinks)
	assert.Equal(t, 256, mc.BufferSize)
	assert.Equal(t, "tours", mc.Influx.Bucket)
	assert.Equal(t, "eternity", mc.Influx.Org)
}

func TestGetServerConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"server": {"catalogUrl": "http://content/api"}}`)))

	sc := GetServerConfig()
	assert.Equal(t, ":8080", sc.Address)
	assert.Equal(t, "./catalog.yaml", sc.CatalogPath)
	assert.Equal(t, "http://content/api", sc.CatalogURL)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, "arcoord", cfg.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, time.Minute, cfg.MetricInterval)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{
		"otel": { "enabled": true, "serviceName": "my-service", "batchTimeout": "30s" }
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
}

func TestGetQoDConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	qc := GetQoDConfig()
	assert.True(t, qc.Enabled)
	assert.Empty(t, qc.Endpoint)
	assert.Equal(t, "premium-video", qc.ProfileID)
	assert.Equal(t, 30*time.Minute, qc.Duration)
}
