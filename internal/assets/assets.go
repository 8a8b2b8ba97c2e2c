// Package assets lazily materializes POI media sources into playable handles.
package assets

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/eternity-ar/arcoord/internal/catalog"
	"github.com/eternity-ar/arcoord/internal/logging"
	"github.com/eternity-ar/arcoord/internal/media"
)

// ErrAssetUnresolved is returned when a media source is missing or malformed.
var ErrAssetUnresolved = errors.New("asset unresolved")

var (
	absoluteURL    = regexp.MustCompile(`(?i)^https?://`)
	repeatedSlash  = regexp.MustCompile(`//+`)
	controlOrSpace = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// NormalizePath turns a catalog media path into the form the runtime loads.
// Absolute http(s) URLs pass through untouched. Anything else is trimmed,
// loses a leading "./", gains a leading "/", and has runs of slashes collapsed.
func NormalizePath(path string) (string, error) {
	if absoluteURL.MatchString(path) {
		return path, nil
	}

	p := strings.TrimSpace(path)
	if p == "" {
		return "", fmt.Errorf("%w: empty source", ErrAssetUnresolved)
	}
	if controlOrSpace.MatchString(p) {
		return "", fmt.Errorf("%w: control characters in %q", ErrAssetUnresolved, p)
	}
	p = strings.TrimPrefix(p, "./")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = repeatedSlash.ReplaceAllString(p, "/")
	if p == "/" {
		return "", fmt.Errorf("%w: %q names no file", ErrAssetUnresolved, path)
	}
	return p, nil
}

// Loader resolves each POI's media at most once per session.
type Loader struct {
	factory media.Factory
	logger  *slog.Logger

	handles     map[string]media.Handle
	failed      map[string]bool
	resolutions int
}

// NewLoader creates a Loader that builds surfaces with factory.
func NewLoader(factory media.Factory, logger *slog.Logger) *Loader {
	return &Loader{
		factory: factory,
		logger:  logger,
		handles: make(map[string]media.Handle),
		failed:  make(map[string]bool),
	}
}

// EnsureLoaded returns the POI's media handle, creating it and attaching the
// normalized source on first use. Later calls return the same handle. A bad
// source fails with ErrAssetUnresolved, logged only the first time.
func (l *Loader) EnsureLoaded(poi catalog.PointOfInterest) (media.Handle, error) {
	if h, ok := l.handles[poi.ID]; ok {
		return h, nil
	}

	src, err := NormalizePath(poi.MediaSource)
	if err != nil {
		if !l.failed[poi.ID] {
			l.failed[poi.ID] = true
			l.logger.Warn("media source unresolved, activation aborted",
				logging.Kind(logging.KindAssetUnresolved),
				"poi", poi.ID,
				"source", poi.MediaSource,
				"error", err)
		}
		return nil, fmt.Errorf("poi %s: %w", poi.ID, err)
	}

	h := l.factory.NewHandle(poi.ID)
	h.SetSource(src)
	l.handles[poi.ID] = h
	l.resolutions++
	l.logger.Debug("media loaded", "poi", poi.ID, "source", src)
	return h, nil
}

// Loaded reports whether the POI's media has been materialized.
func (l *Loader) Loaded(id string) bool {
	_, ok := l.handles[id]
	return ok
}

// Handle returns the POI's handle if it was loaded.
func (l *Loader) Handle(id string) (media.Handle, bool) {
	h, ok := l.handles[id]
	return h, ok
}

// Resolutions returns how many sources have been materialized.
func (l *Loader) Resolutions() int {
	return l.resolutions
}
