// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides the structured loggers of tempus. Every entry is
// written to the configured output and mirrored into the recent-log buffer
// served by the control API.
package log

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Environment fallbacks consulted when Config leaves a field empty.
const (
	EnvLevel   = "TEMPUS_LOG_LEVEL"
	EnvService = "TEMPUS_SERVICE"
	EnvVersion = "TEMPUS_VERSION"

	defaultService = "tempus"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // "debug", "info", ...; falls back to TEMPUS_LOG_LEVEL
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every entry, defaults to "tempus"
	Version string    // build version attached to every entry
}

var (
	once sync.Once
	mu   sync.RWMutex
	base zerolog.Logger
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseLevel returns InfoLevel for an empty or unknown name.
func parseLevel(name string) zerolog.Level {
	if name == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Configure installs the global logger. Only the first call has an effect;
// later loggers obtained through Base or WithComponent configure it lazily
// with defaults.
func Configure(cfg Config) {
	once.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.SetGlobalLevel(parseLevel(firstNonEmpty(cfg.Level, os.Getenv(EnvLevel))))

		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		l := zerolog.New(zerolog.MultiLevelWriter(out, recent)).With().
			Timestamp().
			Str("service", firstNonEmpty(cfg.Service, os.Getenv(EnvService), defaultService)).
			Str("version", firstNonEmpty(cfg.Version, os.Getenv(EnvVersion))).
			Logger()

		mu.Lock()
		base = l
		mu.Unlock()
	})
}

// SetLevel changes the global level at runtime, on a config reload. The
// change is logged at the new level, or at info when that is lower, so it
// reaches the recent-log buffer.
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	if parsed == zerolog.NoLevel {
		return errors.New("empty log level")
	}
	prev := zerolog.GlobalLevel()
	if prev == parsed {
		return nil
	}
	zerolog.SetGlobalLevel(parsed)
	at := max(parsed, zerolog.InfoLevel)
	l := WithComponent("log")
	l.WithLevel(at).
		Str(FieldEvent, "log.level_changed").
		Str("from", prev.String()).
		Str("to", parsed.String()).
		Msg("log level changed")
	return nil
}

// Level returns the current global level name.
func Level() string { return zerolog.GlobalLevel().String() }

func logger() zerolog.Logger {
	Configure(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger tagged with a component name such as
// "pool" or "api".
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}

// Derive returns a child logger with the fields added by build.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
