package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "arcoord.cfg.json"

// GeofenceConfig holds geofence evaluation settings
type GeofenceConfig struct {
	DefaultRadiusMeters float64 `json:"defaultRadiusMeters" mapstructure:"defaultRadiusMeters"`
}

// PlaybackConfig holds the autoplay retry cascade settings
type PlaybackConfig struct {
	RetryDelays []time.Duration `json:"retryDelays" mapstructure:"retryDelays"`
	UnmuteDelay time.Duration   `json:"unmuteDelay" mapstructure:"unmuteDelay"`
}

// ReadinessConfig holds the AR subsystem readiness probe settings
type ReadinessConfig struct {
	Attempts int           `json:"attempts" mapstructure:"attempts"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// SQLiteConfig holds sqlite backend settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// PostgresConfig holds postgres backend settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// DSN returns the postgres connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds redis backend settings
type RedisConfig struct {
	Address  string `json:"address" mapstructure:"address"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
}

// StorageConfig holds session storage settings
type StorageConfig struct {
	Type        string         `json:"type" mapstructure:"type"`
	PositionKey string         `json:"positionKey" mapstructure:"positionKey"`
	SQLite      SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres    PostgresConfig `json:"postgres" mapstructure:"postgres"`
	Redis       RedisConfig    `json:"redis" mapstructure:"redis"`
}

// InfluxConfig holds InfluxDB sink settings
type InfluxConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Token  string `json:"token" mapstructure:"token"`
	Org    string `json:"org" mapstructure:"org"`
	Bucket string `json:"bucket" mapstructure:"bucket"`
}

// MetricsConfig holds metrics recorder settings
type MetricsConfig struct {
	Sinks      []string     `json:"sinks" mapstructure:"sinks"`
	BufferSize int          `json:"bufferSize" mapstructure:"bufferSize"`
	Influx     InfluxConfig `json:"influx" mapstructure:"influx"`
}

// ServerConfig holds gateway and catalog source settings
type ServerConfig struct {
	Address     string `json:"address" mapstructure:"address"`
	CatalogPath string `json:"catalogPath" mapstructure:"catalogPath"`
	CatalogURL  string `json:"catalogUrl" mapstructure:"catalogUrl"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout   time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	MetricInterval time.Duration `json:"metricInterval" mapstructure:"metricInterval"`
}

// QoDConfig holds quality-on-demand request settings. An empty endpoint
// means mock mode. With a client id set, the bearer token is obtained by the
// client-credentials grant at TokenURL; otherwise Token is sent as is.
type QoDConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Token        string        `json:"token" mapstructure:"token"`
	TokenURL     string        `json:"tokenUrl" mapstructure:"tokenUrl"`
	ClientID     string        `json:"clientId" mapstructure:"clientId"`
	ClientSecret string        `json:"clientSecret" mapstructure:"clientSecret"`
	PhoneNumber  string        `json:"phoneNumber" mapstructure:"phoneNumber"`
	ProfileID    string        `json:"profileId" mapstructure:"profileId"`
	Duration     time.Duration `json:"duration" mapstructure:"duration"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers every default without reading a file.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("geofence.defaultRadiusMeters", 120.0)

	viper.SetDefault("playback.retryDelays", []string{"0s", "160ms", "400ms", "800ms"})
	viper.SetDefault("playback.unmuteDelay", "180ms")

	viper.SetDefault("readiness.attempts", 40)
	viper.SetDefault("readiness.interval", "75ms")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.positionKey", "eternity.lastPosition")
	viper.SetDefault("storage.sqlite.path", "./arcoord.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "arcoord")
	viper.SetDefault("storage.postgres.sslMode", "disable")
	viper.SetDefault("storage.redis.address", "localhost:6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.prefix", "arcoord:")

	viper.SetDefault("metrics.sinks", []string{"memory"})
	viper.SetDefault("metrics.bufferSize", 256)
	viper.SetDefault("metrics.influx.url", "http://localhost:8086")
	viper.SetDefault("metrics.influx.token", "")
	viper.SetDefault("metrics.influx.org", "eternity")
	viper.SetDefault("metrics.influx.bucket", "arcoord")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.catalogPath", "./catalog.yaml")
	viper.SetDefault("server.catalogUrl", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "arcoord")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "1m")

	viper.SetDefault("qod.enabled", true)
	viper.SetDefault("qod.endpoint", "")
	viper.SetDefault("qod.token", "")
	viper.SetDefault("qod.tokenUrl", "")
	viper.SetDefault("qod.clientId", "")
	viper.SetDefault("qod.clientSecret", "")
	viper.SetDefault("qod.phoneNumber", "+61491570156")
	viper.SetDefault("qod.profileId", "premium-video")
	viper.SetDefault("qod.duration", "30m")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetGeofenceConfig returns geofence settings.
func GetGeofenceConfig() GeofenceConfig {
	return GeofenceConfig{
		DefaultRadiusMeters: viper.GetFloat64("geofence.defaultRadiusMeters"),
	}
}

// GetPlaybackConfig returns the retry cascade. Delays are duration strings or
// bare millisecond numbers; unparsable and negative entries are skipped.
func GetPlaybackConfig() PlaybackConfig {
	var delays []time.Duration
	for _, s := range viper.GetStringSlice("playback.retryDelays") {
		d, err := time.ParseDuration(s)
		if err != nil {
			ms, convErr := strconv.Atoi(s)
			if convErr != nil {
				continue
			}
			d = time.Duration(ms) * time.Millisecond
		}
		if d < 0 {
			continue
		}
		delays = append(delays, d)
	}
	return PlaybackConfig{
		RetryDelays: delays,
		UnmuteDelay: viper.GetDuration("playback.unmuteDelay"),
	}
}

// GetReadinessConfig returns the readiness probe settings.
func GetReadinessConfig() ReadinessConfig {
	return ReadinessConfig{
		Attempts: viper.GetInt("readiness.attempts"),
		Interval: viper.GetDuration("readiness.interval"),
	}
}

// GetStorageConfig returns session storage settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:        viper.GetString("storage.type"),
		PositionKey: viper.GetString("storage.positionKey"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslMode"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("storage.redis.address"),
			Password: viper.GetString("storage.redis.password"),
			DB:       viper.GetInt("storage.redis.db"),
			Prefix:   viper.GetString("storage.redis.prefix"),
		},
	}
}

// GetMetricsConfig returns metrics recorder settings.
func GetMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Sinks:      viper.GetStringSlice("metrics.sinks"),
		BufferSize: viper.GetInt("metrics.bufferSize"),
		Influx: InfluxConfig{
			URL:    viper.GetString("metrics.influx.url"),
			Token:  viper.GetString("metrics.influx.token"),
			Org:    viper.GetString("metrics.influx.org"),
			Bucket: viper.GetString("metrics.influx.bucket"),
		},
	}
}

// GetServerConfig returns gateway and catalog source settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Address:     viper.GetString("server.address"),
		CatalogPath: viper.GetString("server.catalogPath"),
		CatalogURL:  viper.GetString("server.catalogUrl"),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// GetQoDConfig returns quality-on-demand settings.
func GetQoDConfig() QoDConfig {
	return QoDConfig{
		Enabled:      viper.GetBool("qod.enabled"),
		Endpoint:     viper.GetString("qod.endpoint"),
		Token:        viper.GetString("qod.token"),
		TokenURL:     viper.GetString("qod.tokenUrl"),
		ClientID:     viper.GetString("qod.clientId"),
		ClientSecret: viper.GetString("qod.clientSecret"),
		PhoneNumber:  viper.GetString("qod.phoneNumber"),
		ProfileID:    viper.GetString("qod.profileId"),
		Duration:     viper.GetDuration("qod.duration"),
	}
}
