package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/dispatcher"
	"github.com/eternity-ar/arcoord/internal/gateway"
	"github.com/eternity-ar/arcoord/internal/influx"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/loop"
	"github.com/eternity-ar/arcoord/internal/metrics"
	"github.com/eternity-ar/arcoord/internal/playback"
	"github.com/eternity-ar/arcoord/internal/qod"
	"github.com/eternity-ar/arcoord/internal/session"
	"github.com/eternity-ar/arcoord/internal/storage"
	"github.com/eternity-ar/arcoord/internal/trigger"
	"golang.org/x/sync/errgroup"
)

// activeServer feeds the connected-client count into every log record.
var activeServer atomic.Pointer[gateway.Server]

func contextAttrs() []slog.Attr {
	if s := activeServer.Load(); s != nil {
		return []slog.Attr{slog.Int64("clients", s.Clients())}
	}
	return nil
}

func serveCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configDir := commonFlags("serve", stderr)
	fs.String("address", "", "listen address (overrides server.address)")
	fs.String("storage", "", "storage backend: memory, sqlite, postgres or redis")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(*configDir, fs, stdout, true)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	storageCfg := config.GetStorageConfig()
	store, err := storage.NewBackend(storageCfg, a.zlog.With().Str("component", "storage").Logger())
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("initializing %s storage: %w", storageCfg.Type, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
	}()
	logger.Info("Storage backend initialized", "type", storageCfg.Type)

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.zlog.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	defer d.Close()

	metricsCfg := config.GetMetricsConfig()
	trigger.RegisterPersistJob(d, store, metricsCfg.BufferSize)

	deps := metrics.Deps{
		Meter:      a.otel.Meter("arcoord"),
		Store:      store,
		Dispatcher: d,
		Logger:     logger,
	}
	if slices.Contains(metricsCfg.Sinks, "influx") {
		ic := metricsCfg.Influx
		m := influx.NewManager(influx.Config{URL: ic.URL, Token: ic.Token, Org: ic.Org, Bucket: ic.Bucket},
			a.zlog.With().Str("component", "influx").Logger(),
			filepath.Join(config.GetString("logsDir"), "arcoord.influx.gz"))
		if err := m.Connect(ctx); err != nil {
			return fmt.Errorf("connecting influx: %w", err)
		}
		defer func() {
			if err := m.Close(); err != nil {
				logger.Warn("failed to close influx", "error", err)
			}
		}()
		deps.Influx = m
	}
	recorder, counter, err := metrics.Build(ctx, metricsCfg, deps)
	if err != nil {
		return err
	}

	var requester qod.Requester
	qc := config.GetQoDConfig()
	if qc.Enabled {
		requester = qod.New(qc)
	}

	pc := config.GetPlaybackConfig()
	l := loop.New(logger)
	srv := gateway.New(gateway.Dependencies{
		Loop:    l,
		Catalog: cat,
		Session: session.Deps{
			Metrics:     recorder,
			Store:       store,
			Dispatcher:  d,
			QoD:         requester,
			QoDRequest:  qod.RequestFromConfig(qc),
			Readiness:   config.GetReadinessConfig(),
			Playback:    playback.Config{RetryDelays: pc.RetryDelays, UnmuteDelay: pc.UnmuteDelay},
			PositionKey: storageCfg.PositionKey,
		},
		Counters: counter,
		Logger:   logger,
	})
	activeServer.Store(srv)
	defer activeServer.Store(nil)

	address := config.GetServerConfig().Address
	httpSrv := &http.Server{
		Addr:              address,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := l.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info("Gateway listening", "address", address, "version", BuildVersion)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
