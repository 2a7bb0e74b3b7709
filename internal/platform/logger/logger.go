package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level       string
	Environment string
	ServiceName string
	Version     string
	Output      io.Writer
}

// Logger wraps zerolog so services can hold a pointer and still log through
// the embedded event API.
type Logger struct {
	zerolog.Logger
}

// New builds a Logger. Development uses a console writer, everything else JSON.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Environment == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: zl}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithContext returns the request-scoped logger stored by the middleware, or
// the given fallback.
func WithContext(ctx context.Context, fallback *Logger) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &fallback.Logger
}
