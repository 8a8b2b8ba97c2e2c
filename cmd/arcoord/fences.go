package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/geo"
)

func fencesCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configDir := commonFlags("fences", stderr)
	wkt := fs.Bool("wkt", true, "include the boundary polygon as WKT")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(*configDir, fs, stderr, false)
	if err != nil {
		return err
	}
	defer a.close()

	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLATITUDE\tLONGITUDE\tRADIUS\tBAND\tBOUNDARY")
	for _, p := range cat.Filter(func(p catalog.PointOfInterest) bool {
		return p.Trigger.Kind == catalog.TriggerGeofence
	}) {
		f := p.Trigger.Fence
		boundary := "-"
		if *wkt {
			if boundary, err = geo.FenceBoundaryWKT(f); err != nil {
				a.logger.Warn("fence boundary failed", "poi", p.ID, "error", err)
				boundary = "-"
			}
		}
		fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%.0fm\t%.0fm\t%s\n",
			p.ID, f.Latitude, f.Longitude, f.Radius(), geo.HysteresisBand(f.Radius()), boundary)
	}
	return tw.Flush()
}
