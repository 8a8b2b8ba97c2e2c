package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/logging"
	intOtel "github.com/eternity-ar/arcoord/internal/otel"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries what every command needs once configuration and logging are up.
type app struct {
	logs    *logging.SlogManager
	logger  *slog.Logger
	zlog    zerolog.Logger
	otel    *intOtel.Provider
	logFile *os.File
}

// commonFlags registers the flags shared by every command and binds them
// over the config file values.
func commonFlags(name string, stderr io.Writer) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", ".", "directory holding "+config.FileName)
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("catalog", "", "catalog file (overrides server.catalogPath)")
	fs.String("catalog-url", "", "content API base URL (overrides server.catalogUrl)")
	return fs, configDir
}

func bindFlags(fs *pflag.FlagSet) {
	for flag, key := range map[string]string{
		"log-level":   "logLevel",
		"catalog":     "server.catalogPath",
		"catalog-url": "server.catalogUrl",
		"address":     "server.address",
		"storage":     "storage.type",
	} {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			_ = viper.BindPFlag(key, f)
		}
	}
}

// setup loads the config and builds logging. With toFile set, records also
// go to a timestamped file under logsDir and OTel (when enabled) writes there.
func setup(configDir string, fs *pflag.FlagSet, console io.Writer, toFile bool) (*app, error) {
	loadErr := config.Load(configDir)
	bindFlags(fs)

	a := &app{logs: logging.NewSlogManager()}
	level := viper.GetString("logLevel")

	out := console
	if toFile {
		logsDir := viper.GetString("logsDir")
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		path := logging.LogFilePath(logsDir, "arcoord", time.Now())
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
		out = io.MultiWriter(console, f)
	}

	oc := config.GetOTelConfig()
	var otelOut io.Writer = console
	if a.logFile != nil {
		otelOut = a.logFile
	}
	provider, err := intOtel.New(intOtel.Config{
		Enabled:        oc.Enabled,
		ServiceName:    oc.ServiceName,
		BatchTimeout:   oc.BatchTimeout,
		MetricInterval: oc.MetricInterval,
		LogWriter:      otelOut,
		MetricWriter:   otelOut,
	})
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.otel = provider

	var opts []logging.SetupOption
	if viper.GetBool("graylog.enabled") {
		gw, err := logging.NewGraylogWriter(viper.GetString("graylog.address"), "arcoord")
		if err != nil {
			fmt.Fprintln(console, "graylog disabled:", err)
		} else {
			opts = append(opts, logging.WithGraylog(gw))
		}
	}
	opts = append(opts, logging.WithContext(contextAttrs))

	a.logs.Setup(out, level, provider.LoggerProvider(), opts...)
	a.logger = a.logs.Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	a.zlog = zerolog.New(out).Level(lvl).With().Timestamp().Logger()

	if loadErr != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", loadErr)
	} else {
		a.logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.logs.Flush(ctx); err != nil {
		a.logger.Warn("failed to flush logs", "error", err)
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to shut down otel", "error", err)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
	viper.Reset()
}

// loadCatalog reads the catalog from the content API when a URL is
// configured, from the catalog file otherwise. Skipped entries are logged.
func (a *app) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	sc := config.GetServerConfig()
	opt := catalog.WithDefaultRadius(config.GetGeofenceConfig().DefaultRadiusMeters)

	var (
		cat      *catalog.Catalog
		problems []error
		err      error
		source   string
	)
	if sc.CatalogURL != "" {
		source = sc.CatalogURL
		cat, problems, err = catalog.NewClient(sc.CatalogURL).Fetch(ctx, opt)
	} else {
		source = sc.CatalogPath
		cat, problems, err = catalog.Load(sc.CatalogPath, opt)
	}
	if err != nil {
		return nil, fmt.Errorf("loading catalog from %s: %w", source, err)
	}
	for _, p := range problems {
		a.logger.Warn("catalog entry skipped", "error", p)
	}
	a.logger.Info("Catalog loaded", "source", source, "pois", cat.Len(), "skipped", len(problems))
	return cat, nil
}
