// Package sim replays a scripted AR session in virtual time against simulated
// media surfaces. It is the deterministic stand-in for a real AR runtime.
package sim

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/eternity-ar/arcoord/internal/media"
	"github.com/eternity-ar/arcoord/internal/session"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScript is returned for scripts that cannot be replayed.
var ErrInvalidScript = errors.New("invalid replay script")

// Autoplay policies a script can select.
const (
	AutoplayAllow        = "allow"
	AutoplayBlockUnmuted = "block-unmuted"
	AutoplayFail         = "fail"
)

// Script is a page session as a timeline of runtime signals.
type Script struct {
	Page string `yaml:"page"`
	// Autoplay is the play policy of every surface; defaults to allow.
	Autoplay string `yaml:"autoplay"`
	// Latency delays every play result.
	Latency time.Duration `yaml:"latency"`
	// RuntimeReadyAfter is when the AR runtime probe starts succeeding.
	// Negative means never.
	RuntimeReadyAfter time.Duration `yaml:"runtimeReadyAfter"`
	// CachedPosition seeds the position store before the session starts.
	CachedPosition *Position `yaml:"cachedPosition"`
	// Settle is how long to keep the clock running after the last step.
	Settle time.Duration `yaml:"settle"`
	Steps  []Step        `yaml:"steps"`
}

// Position is a latitude/longitude pair.
type Position struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Step is one signal at an offset from session start. Exactly one of the
// signal fields must be set.
type Step struct {
	At       time.Duration `yaml:"at"`
	Found    string        `yaml:"found,omitempty"`
	Lost     string        `yaml:"lost,omitempty"`
	Position *Position     `yaml:"position,omitempty"`
	Event    *Event        `yaml:"event,omitempty"`
}

// Event fires a readiness event on a surface.
type Event struct {
	Handle string `yaml:"handle"`
	Name   string `yaml:"name"`
}

// Signal names the step's signal.
func (s Step) Signal() string {
	switch {
	case s.Found != "":
		return "found"
	case s.Lost != "":
		return "lost"
	case s.Position != nil:
		return "position"
	case s.Event != nil:
		return "event"
	}
	return ""
}

func (s Step) signals() int {
	n := 0
	for _, set := range []bool{s.Found != "", s.Lost != "", s.Position != nil, s.Event != nil} {
		if set {
			n++
		}
	}
	return n
}

// DefaultSettle is the run-out after the last step when a script sets none.
const DefaultSettle = 2 * time.Second

// Validate checks the script and fills in defaults.
func (s *Script) Validate() error {
	if _, err := session.ParsePageKind(s.Page); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if s.Autoplay == "" {
		s.Autoplay = AutoplayAllow
	}
	if _, err := s.policy(); err != nil {
		return err
	}
	if s.Latency < 0 {
		return fmt.Errorf("%w: negative latency", ErrInvalidScript)
	}
	if s.Settle <= 0 {
		s.Settle = DefaultSettle
	}
	for i, step := range s.Steps {
		if step.At < 0 {
			return fmt.Errorf("%w: step %d: negative offset", ErrInvalidScript, i)
		}
		if n := step.signals(); n != 1 {
			return fmt.Errorf("%w: step %d: %d signals, want exactly 1", ErrInvalidScript, i, n)
		}
		if step.Event != nil {
			if _, err := media.ParseReadyEvent(step.Event.Name); err != nil {
				return fmt.Errorf("%w: step %d: %v", ErrInvalidScript, i, err)
			}
		}
	}
	// equal offsets keep their written order
	slices.SortStableFunc(s.Steps, func(a, b Step) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		}
		return 0
	})
	return nil
}

func (s *Script) policy() (media.Policy, error) {
	switch s.Autoplay {
	case AutoplayAllow:
		return media.AllowAll, nil
	case AutoplayBlockUnmuted:
		return media.BlockUnmuted, nil
	case AutoplayFail:
		return media.FailWith(errors.New("NotSupportedError")), nil
	}
	return nil, fmt.Errorf("%w: unknown autoplay policy %q", ErrInvalidScript, s.Autoplay)
}

// ParseScript decodes and validates a YAML or JSON script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads and parses the script at path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(data)
}
