// Package logging provides structured logging for canon using zerolog.
//
// Console output is used when stderr is a terminal and JSON otherwise, unless
// a format is configured explicitly.
//
//	log := logging.FromContext(ctx)
//	log.Info().Str("club_id", clubID).Int("items", n).Msg("reconciling batch")
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger

	// Nop logger for discarding output.
	Nop = zerolog.Nop()
)

func init() {
	defaultLogger = NewFromConfig(Config{
		Level:  os.Getenv("CANON_LOG_LEVEL"),
		Format: os.Getenv("CANON_LOG_FORMAT"),
	}, os.Stderr)
}

// Config selects the level and output format of a logger.
type Config struct {
	Level  string // trace, debug, info, warn, error; empty means info
	Format string // json, console or auto (default)
}

// NewFromConfig builds a logger writing to w.
func NewFromConfig(cfg Config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := parseLevel(cfg.Level)

	var out io.Writer = w
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
	case "console", "pretty":
		out = consoleWriter(w)
	default:
		if f, ok := w.(*os.File); ok && isTerminal(f) {
			out = consoleWriter(w)
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// Configure replaces the default logger.
func Configure(cfg Config) {
	SetDefault(NewFromConfig(cfg, os.Stderr))
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault sets the default global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
}

// New creates a JSON logger writing to w at the default logger's level.
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(defaultLogger.GetLevel()).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func parseLevel(raw string) zerolog.Level {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
