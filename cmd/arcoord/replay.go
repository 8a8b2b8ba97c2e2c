package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/eternity-ar/arcoord/internal/config"
	"github.com/eternity-ar/arcoord/internal/playback"
	"github.com/eternity-ar/arcoord/internal/sim"
	"gopkg.in/yaml.v3"
)

func replayCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configDir := commonFlags("replay", stderr)
	asJSON := fs.Bool("json", false, "print the report as JSON instead of YAML")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("replay needs exactly one script path")
	}

	a, err := setup(*configDir, fs, stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	script, err := sim.LoadScript(fs.Arg(0))
	if err != nil {
		return err
	}
	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	pc := config.GetPlaybackConfig()
	report, err := sim.Run(ctx, script, sim.Dependencies{
		Catalog:     cat,
		PositionKey: config.GetStorageConfig().PositionKey,
		Readiness:   config.GetReadinessConfig(),
		Playback:    playback.Config{RetryDelays: pc.RetryDelays, UnmuteDelay: pc.UnmuteDelay},
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}
