// Package auditlog writes one structured JSON line per alert or production
// event, independent of the operational log stream, so the full history of
// what went out over the wire survives regardless of the configured log
// level.
package auditlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger appends structured records of dispatched alerts and production
// events to an underlying writer.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger writing to path, or to stderr if path is empty.
func New(path string) (*Logger, error) {
	var w io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}, nil
}

// Alert records a single dispatched anomaly alert (a status change or a
// repeat DEFECT).
func (l *Logger) Alert(status, label string, score float64, severity string, clipObject, clipStatus string) {
	ev := l.zl.Info().
		Str("event", "alert").
		Str("status", status).
		Str("label", label).
		Float64("score", score).
		Str("severity", severity)
	if clipObject != "" {
		ev = ev.Str("clip_object", clipObject)
	}
	if clipStatus != "" {
		ev = ev.Str("clip_status", clipStatus)
	}
	ev.Send()
}

// Production records a single deduplicated production-count event.
func (l *Logger) Production(count int) {
	l.zl.Info().
		Str("event", "production").
		Int("count", count).
		Send()
}
