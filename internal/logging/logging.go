package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewWithLevel returns a stderr logger at the given level. Unknown levels fall back to info.
func NewWithLevel(level string) zerolog.Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter returns a logger writing JSON lines to w at the given level.
// Stdout is left to command output, so callers pass stderr or a buffer.
func NewWithWriter(w io.Writer, level string) zerolog.Logger {
	lvl, _ := ParseLevel(level)
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. The bool is false when the
// name is not recognized and info was assumed; an empty name counts as known.
func ParseLevel(value string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "", "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "fatal":
		return zerolog.FatalLevel, true
	case "panic":
		return zerolog.PanicLevel, true
	default:
		return zerolog.InfoLevel, false
	}
}
