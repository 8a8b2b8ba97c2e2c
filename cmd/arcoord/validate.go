package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/config"
)

func validateCmd(_ context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configDir := commonFlags("validate", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(*configDir, fs, stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	path := config.GetServerConfig().CatalogPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}

	cat, problems, err := catalog.Parse(data, catalog.WithDefaultRadius(config.GetGeofenceConfig().DefaultRadiusMeters))
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintln(stdout, "skipped:", p)
	}

	counts := map[catalog.TriggerKind]int{}
	for _, p := range cat.All() {
		counts[p.Trigger.Kind]++
	}
	fmt.Fprintf(stdout, "%s: %d pois (", path, cat.Len())
	for i, k := range []catalog.TriggerKind{
		catalog.TriggerPatternMarker, catalog.TriggerPresetMarker, catalog.TriggerBarcodeMarker,
		catalog.TriggerImageTarget, catalog.TriggerGeofence,
	} {
		if i > 0 {
			fmt.Fprint(stdout, ", ")
		}
		fmt.Fprintf(stdout, "%s %d", k, counts[k])
	}
	fmt.Fprintln(stdout, ")")

	if len(problems) > 0 {
		return errors.New("catalog has invalid entries")
	}
	return nil
}
