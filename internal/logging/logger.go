// Package logging builds the zerolog loggers used across perfmerge. Logs are
// diagnostics only: they go to stderr so that artifacts written to stdout can
// be piped into other tools.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config mirrors the logging section of the perfmerge configuration
// (PERFMERGE_LOG_LEVEL, PERFMERGE_LOG_PRETTY).
type Config struct {
	// Level is one of trace, debug, info, warn or error.
	Level string
	// Pretty switches from JSON lines to the console writer.
	Pretty bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig logs info and above to stderr in console form.
func DefaultConfig() Config {
	return Config{
		Level:  zerolog.LevelInfoValue,
		Pretty: true,
		Output: os.Stderr,
	}
}

// ParseLevel maps a level name to a zerolog level. Names are case-insensitive
// and "warning" is accepted for warn. Anything else is info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case zerolog.LevelTraceValue:
		return zerolog.TraceLevel
	case zerolog.LevelDebugValue:
		return zerolog.DebugLevel
	case zerolog.LevelWarnValue, "warning":
		return zerolog.WarnLevel
	case zerolog.LevelErrorValue:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds the root logger of a perfmerge invocation.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// WithComponent tags logger with the pipeline stage that emits through it
// (session, profile_builder, flamechart_exporter, ...).
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
