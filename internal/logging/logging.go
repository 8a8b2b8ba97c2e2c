package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// Diagnostic kinds attached to engine log records under the "kind" key.
const (
	KindSignalDropped         = "SignalDropped"
	KindAssetUnresolved       = "AssetUnresolved"
	KindAutoplayRejected      = "AutoplayRejected"
	KindPlaybackRejectedOther = "PlaybackRejectedOther"
	KindSubsystemTimeout      = "SubsystemTimeout"
)

// Kind returns the attribute classifying a diagnostic record.
func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, name string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", name, sessionStart.Format("20060102_150405")),
	)
}

// NewGraylogWriter opens a UDP GELF writer to addr (host:port).
func NewGraylogWriter(addr, facility string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to graylog %s: %w", addr, err)
	}
	if facility != "" {
		w.Facility = facility
	}
	return w, nil
}
