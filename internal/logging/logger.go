// Package logging sets up the structured logger shared by murmur's components.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel maps a config level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger writing to w (stderr when nil).
// Pretty output is meant for a terminal; otherwise lines are JSON.
func New(level string, pretty bool, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Sampler lets through the first event and then every nth one.
// It is used for events that can fire on every render tick.
type Sampler struct {
	N     uint64
	count uint64
}

// Allow reports whether the current event should be logged
func (s *Sampler) Allow() bool {
	n := s.N
	if n == 0 {
		n = 1
	}
	s.count++
	return s.count == 1 || s.count%n == 0
}

// Count returns the number of events seen
func (s *Sampler) Count() uint64 {
	return s.count
}
