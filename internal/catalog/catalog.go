// Package catalog describes points of interest and the trigger that activates each one.
// A catalog is loaded once at session start and never mutated afterwards.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/eternity-ar/arcoord/internal/geo"
)

// DefaultRadiusMeters is applied to geofences that omit radiusMeters.
const DefaultRadiusMeters = 120.0

// ErrInvalidCatalog is returned when a catalog document or entry is unusable.
var ErrInvalidCatalog = errors.New("invalid catalog")

// TriggerKind names the detection condition of a POI.
type TriggerKind string

const (
	TriggerPatternMarker TriggerKind = "pattern-marker"
	TriggerPresetMarker  TriggerKind = "preset-marker"
	TriggerBarcodeMarker TriggerKind = "barcode-marker"
	TriggerImageTarget   TriggerKind = "image-target"
	TriggerGeofence      TriggerKind = "geofence"
)

// IsMarker reports whether the trigger is driven by found/lost signals from the AR runtime.
func (k TriggerKind) IsMarker() bool {
	switch k {
	case TriggerPatternMarker, TriggerPresetMarker, TriggerBarcodeMarker, TriggerImageTarget:
		return true
	}
	return false
}

// Trigger holds the kind and the one config block that belongs to it.
type Trigger struct {
	Kind           TriggerKind
	PatternURL     string
	Preset         string
	BarcodeValue   int
	ImageTargetURL string
	Fence          geo.Fence
}

// PointOfInterest pairs a trigger with a media asset.
type PointOfInterest struct {
	ID          string
	Name        string
	MediaSource string
	Trigger     Trigger
}

// TriggerDoc is the format-agnostic trigger block of a catalog entry.
type TriggerDoc struct {
	Kind           TriggerKind `json:"kind" yaml:"kind"`
	PatternURL     *string     `json:"patternUrl,omitempty" yaml:"patternUrl,omitempty"`
	Preset         *string     `json:"preset,omitempty" yaml:"preset,omitempty"`
	BarcodeValue   *int        `json:"barcodeValue,omitempty" yaml:"barcodeValue,omitempty"`
	ImageTargetURL *string     `json:"imageTargetUrl,omitempty" yaml:"imageTargetUrl,omitempty"`
	Latitude       *float64    `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude      *float64    `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	RadiusMeters   *float64    `json:"radiusMeters,omitempty" yaml:"radiusMeters,omitempty"`
}

// EntryDoc is one catalog entry as delivered by the content source.
type EntryDoc struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	MediaSource string     `json:"mediaSource" yaml:"mediaSource"`
	Trigger     TriggerDoc `json:"trigger" yaml:"trigger"`
}

// Document is the top-level catalog file.
type Document struct {
	POIs []EntryDoc `json:"pois" yaml:"pois"`
}

// Catalog is an immutable, id-indexed set of POIs.
type Catalog struct {
	pois []PointOfInterest
	byID map[string]int
}

// New builds a catalog from already-validated POIs. Duplicate ids are rejected.
func New(pois []PointOfInterest) (*Catalog, error) {
	c := &Catalog{
		pois: make([]PointOfInterest, 0, len(pois)),
		byID: make(map[string]int, len(pois)),
	}
	for _, p := range pois {
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, p.ID)
		}
		c.byID[p.ID] = len(c.pois)
		c.pois = append(c.pois, p)
	}
	return c, nil
}

// All returns every POI in catalog order.
func (c *Catalog) All() []PointOfInterest {
	return slices.Clone(c.pois)
}

// Len returns the number of POIs.
func (c *Catalog) Len() int {
	return len(c.pois)
}

// Get looks up a POI by id.
func (c *Catalog) Get(id string) (PointOfInterest, bool) {
	i, ok := c.byID[id]
	if !ok {
		return PointOfInterest{}, false
	}
	return c.pois[i], true
}

// Filter returns the POIs for which keep returns true, in catalog order.
func (c *Catalog) Filter(keep func(PointOfInterest) bool) []PointOfInterest {
	var out []PointOfInterest
	for _, p := range c.pois {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// Option adjusts how document entries are turned into POIs.
type Option func(*buildOptions)

type buildOptions struct {
	defaultRadius float64
}

// WithDefaultRadius sets the radius given to geofences that omit one.
// Non-positive values keep DefaultRadiusMeters.
func WithDefaultRadius(meters float64) Option {
	return func(o *buildOptions) {
		if meters > 0 {
			o.defaultRadius = meters
		}
	}
}

// Build converts document entries into POIs. Entries that violate the
// one-config-block invariant are skipped and reported in problems.
func Build(doc Document, opts ...Option) (*Catalog, []error) {
	o := buildOptions{defaultRadius: DefaultRadiusMeters}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		pois     []PointOfInterest
		problems []error
	)
	for i, e := range doc.POIs {
		poi, err := e.toPOI(o)
		if err != nil {
			problems = append(problems, fmt.Errorf("entry %d (%q): %w", i, e.ID, err))
			continue
		}
		pois = append(pois, poi)
	}

	// duplicates keep the first entry
	seen := make(map[string]bool, len(pois))
	unique := pois[:0]
	for _, p := range pois {
		if seen[p.ID] {
			problems = append(problems, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, p.ID))
			continue
		}
		seen[p.ID] = true
		unique = append(unique, p)
	}

	c, _ := New(unique)
	return c, problems
}

func (e EntryDoc) toPOI(o buildOptions) (PointOfInterest, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return PointOfInterest{}, fmt.Errorf("%w: missing id", ErrInvalidCatalog)
	}

	t := e.Trigger
	populated := 0
	for _, set := range []bool{
		t.PatternURL != nil,
		t.Preset != nil,
		t.BarcodeValue != nil,
		t.ImageTargetURL != nil,
		t.Latitude != nil || t.Longitude != nil || t.RadiusMeters != nil,
	} {
		if set {
			populated++
		}
	}
	if populated != 1 {
		return PointOfInterest{}, fmt.Errorf("%w: trigger %q has %d config blocks, want exactly 1", ErrInvalidCatalog, t.Kind, populated)
	}

	trig := Trigger{Kind: t.Kind}
	switch t.Kind {
	case TriggerPatternMarker:
		if t.PatternURL == nil || strings.TrimSpace(*t.PatternURL) == "" {
			return PointOfInterest{}, fmt.Errorf("%w: pattern-marker without patternUrl", ErrInvalidCatalog)
		}
		trig.PatternURL = *t.PatternURL
	case TriggerPresetMarker:
		if t.Preset == nil || strings.TrimSpace(*t.Preset) == "" {
			return PointOfInterest{}, fmt.Errorf("%w: preset-marker without preset", ErrInvalidCatalog)
		}
		trig.Preset = *t.Preset
	case TriggerBarcodeMarker:
		if t.BarcodeValue == nil {
			return PointOfInterest{}, fmt.Errorf("%w: barcode-marker without barcodeValue", ErrInvalidCatalog)
		}
		trig.BarcodeValue = *t.BarcodeValue
	case TriggerImageTarget:
		if t.ImageTargetURL == nil || strings.TrimSpace(*t.ImageTargetURL) == "" {
			return PointOfInterest{}, fmt.Errorf("%w: image-target without imageTargetUrl", ErrInvalidCatalog)
		}
		trig.ImageTargetURL = *t.ImageTargetURL
	case TriggerGeofence:
		if t.Latitude == nil || t.Longitude == nil {
			return PointOfInterest{}, fmt.Errorf("%w: geofence without latitude/longitude", ErrInvalidCatalog)
		}
		radius := o.defaultRadius
		if t.RadiusMeters != nil {
			radius = *t.RadiusMeters
		}
		trig.Fence = geo.Fence{Latitude: *t.Latitude, Longitude: *t.Longitude, RadiusMeters: radius}
		if !trig.Fence.Center().Valid() {
			return PointOfInterest{}, fmt.Errorf("%w: %w", ErrInvalidCatalog, geo.ErrInvalidCoordinates)
		}
	default:
		return PointOfInterest{}, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalidCatalog, t.Kind)
	}

	return PointOfInterest{
		ID:          id,
		Name:        e.Name,
		MediaSource: e.MediaSource,
		Trigger:     trig,
	}, nil
}

// MarkerDescriptor tells the AR runtime how to construct the marker for a POI.
type MarkerDescriptor struct {
	Type  string // "pattern", "preset", "barcode" or "nft"
	URL   string
	Value string
}

var knownPresets = []string{"hiro", "kanji"}

// Describe returns the runtime marker descriptor for a marker POI. Unknown
// presets fall back to hiro. ok is false for geofenced POIs.
func Describe(p PointOfInterest) (d MarkerDescriptor, ok bool) {
	switch p.Trigger.Kind {
	case TriggerPatternMarker:
		return MarkerDescriptor{Type: "pattern", URL: p.Trigger.PatternURL}, true
	case TriggerPresetMarker:
		preset := p.Trigger.Preset
		if !slices.Contains(knownPresets, preset) {
			preset = "hiro"
		}
		return MarkerDescriptor{Type: "preset", Value: preset}, true
	case TriggerBarcodeMarker:
		return MarkerDescriptor{Type: "barcode", Value: fmt.Sprint(p.Trigger.BarcodeValue)}, true
	case TriggerImageTarget:
		return MarkerDescriptor{Type: "nft", URL: p.Trigger.ImageTargetURL}, true
	}
	return MarkerDescriptor{}, false
}
