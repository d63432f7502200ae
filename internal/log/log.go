// Package log provides structured logging for go-avatar.
// It wraps zerolog with sensible defaults for production use.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger zerolog.Logger
	mu     sync.RWMutex
	inited bool
)

// Init initializes the global logger with the specified level and format.
// Valid levels: "trace", "debug", "info", "warn", "error".
// Valid formats: "text" (console) and "json". Anything else means text.
func Init(level, format string) zerolog.Logger {
	return InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit output.
func InitWriter(w io.Writer, level, format string) zerolog.Logger {
	lvl := ParseLevel(level)

	out := w
	if strings.ToLower(format) != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	l := zerolog.New(out).Level(lvl).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	inited = true
	mu.Unlock()
	return l
}

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
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
	default:
		return zerolog.InfoLevel
	}
}

// L returns the global logger instance.
func L() zerolog.Logger {
	mu.RLock()
	if inited {
		defer mu.RUnlock()
		return logger
	}
	mu.RUnlock()
	return Init("info", "text")
}

// With returns a child of the global logger tagged with a component name.
func With(component string) zerolog.Logger {
	return L().With().Str("component", component).Logger()
}
