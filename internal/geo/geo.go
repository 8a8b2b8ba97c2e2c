package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6_371_000.0

// MinRadiusMeters is the smallest radius a fence is evaluated with. Non-positive
// radii are configuration errors and get clamped up to this.
const MinRadiusMeters = 1.0

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Position is a WGS84 latitude/longitude sample in degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both coordinates are finite and in range.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Fence is a circular geofence around a center point.
type Fence struct {
	Latitude     float64 `json:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" yaml:"longitude"`
	RadiusMeters float64 `json:"radiusMeters" yaml:"radiusMeters"`
}

// Center returns the fence center as a Position.
func (f Fence) Center() Position {
	return Position{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Radius returns the effective radius, clamped to MinRadiusMeters.
func (f Fence) Radius() float64 {
	if !(f.RadiusMeters > MinRadiusMeters) {
		return MinRadiusMeters
	}
	return f.RadiusMeters
}

// Containment is the result of evaluating a position against a fence.
type Containment int

const (
	Unchanged Containment = iota
	Inside
	Outside
)

func (c Containment) String() string {
	switch c {
	case Inside:
		return "inside"
	case Outside:
		return "outside"
	default:
		return "unchanged"
	}
}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Position) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// HysteresisBand returns the extra distance past the radius a position must
// travel before an Inside fence reports Outside: clamp(round(radius*0.1), 10, 50).
func HysteresisBand(radius float64) float64 {
	band := math.Round(radius * 0.1)
	if band < 10 {
		return 10
	}
	if band > 50 {
		return 50
	}
	return band
}

// Evaluate computes the containment of pos in fence given the containment the
// caller last observed. It returns Unchanged when the containment did not
// change, otherwise the new containment. Invalid positions count as Outside.
func Evaluate(pos Position, fence Fence, previous Containment) Containment {
	if previous != Inside {
		previous = Outside
	}

	current := Outside
	if pos.Valid() && fence.Center().Valid() {
		radius := fence.Radius()
		d := Distance(pos, fence.Center())
		limit := radius
		if previous == Inside {
			limit = radius + HysteresisBand(radius)
		}
		if d <= limit {
			current = Inside
		}
	}

	if current == previous {
		return Unchanged
	}
	return current
}

// ParsePosition parses a "lat,lon" string into a Position.
func ParsePosition(coords string) (Position, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		return Position{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Position{}, ErrInvalidCoordinates
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Position{}, ErrInvalidCoordinates
	}
	p := Position{Latitude: lat, Longitude: lon}
	if !p.Valid() {
		return Position{}, ErrInvalidCoordinates
	}
	return p, nil
}

// Offset returns the position reached by travelling distance meters from p
// along the given bearing (degrees clockwise from north).
func Offset(p Position, distance, bearing float64) Position {
	lat1 := toRadians(p.Latitude)
	lon1 := toRadians(p.Longitude)
	brg := toRadians(bearing)
	ang := distance / EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(
		math.Sin(brg)*math.Sin(ang)*math.Cos(lat1),
		math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2),
	)
	return Position{Latitude: toDegrees(lat2), Longitude: toDegrees(lon2)}
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
