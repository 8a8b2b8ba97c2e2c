package geo

import (
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Boundaries are exported as 3857 like everything else we hand to map tooling,
// so a fence drawn over a web map lines up with its tiles.

// DefaultBoundarySegments is the vertex count used when approximating a fence circle.
const DefaultBoundarySegments = 64

// To3857 projects a WGS84 position to web mercator meters.
func To3857(p Position) (x, y float64) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ = f(p.Longitude, p.Latitude, 0)
	return x, y
}

// FenceBoundary approximates the fence circle as a closed polygon in EPSG:3857.
// The projected radius is scaled by the mercator scale factor at the fence
// latitude so the ring covers the true ground distance.
func FenceBoundary(f Fence, segments int) (geom.Polygon, error) {
	if !f.Center().Valid() {
		return geom.Polygon{}, ErrInvalidCoordinates
	}
	if segments < 3 {
		return geom.Polygon{}, fmt.Errorf("boundary needs at least 3 segments, got %d", segments)
	}

	cx, cy := To3857(f.Center())
	scale := 1 / math.Cos(toRadians(f.Latitude))
	r := f.Radius() * scale

	flat := make([]float64, 0, (segments+1)*2)
	for i := 0; i < segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		flat = append(flat, cx+r*math.Cos(theta), cy+r*math.Sin(theta))
	}
	// close the ring
	flat = append(flat, flat[0], flat[1])

	ring, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return geom.Polygon{}, fmt.Errorf("fence ring: %w", err)
	}
	return geom.NewPolygon([]geom.LineString{ring})
}

// FenceBoundaryWKT returns the boundary polygon of f as WKT.
func FenceBoundaryWKT(f Fence) (string, error) {
	poly, err := FenceBoundary(f, DefaultBoundarySegments)
	if err != nil {
		return "", err
	}
	return poly.AsText(), nil
}
