// Package logging holds the process logger used by the engine and the
// pipeline runner. Library packages log through a telemetry.Observer.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	EnvLevel = "ACKFLOW_LOG_LEVEL"
	EnvJSON  = "ACKFLOW_LOG_JSON"
)

type Options struct {
	Level string
	JSON  bool
	// Output defaults to stderr.
	Output io.Writer
}

var def atomic.Pointer[slog.Logger]

func init() {
	Configure(Options{})
}

func Configure(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, cfg)
	} else {
		h = slog.NewTextHandler(out, cfg)
	}
	l := slog.New(h)
	def.Store(l)
	return l
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func L() *slog.Logger { return def.Load() }

// FromEnv reads ACKFLOW_LOG_LEVEL and ACKFLOW_LOG_JSON into opts. Unset
// variables leave opts unchanged.
func FromEnv(opts Options) Options {
	if lvl, ok := os.LookupEnv(EnvLevel); ok {
		opts.Level = lvl
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvJSON))); err == nil {
		opts.JSON = b
	}
	return opts
}

func InitFromEnv() *slog.Logger {
	return Configure(FromEnv(Options{}))
}
