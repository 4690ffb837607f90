// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tempus/internal/log"
)

// Environment keys. Each one overrides the matching file setting.
const (
	EnvLogLevel          = "TEMPUS_LOG_LEVEL"
	EnvSessionFile       = "TEMPUS_SESSION_FILE"
	EnvListenAddr        = "TEMPUS_API_LISTEN"
	EnvRateLimit         = "TEMPUS_API_RATE_LIMIT"
	EnvPlaySpeed         = "TEMPUS_PLAY_SPEED"
	EnvUsePlaySpeed      = "TEMPUS_USE_PLAY_SPEED"
	EnvMissFrames        = "TEMPUS_MISS_FRAMES"
	EnvRepeat            = "TEMPUS_REPEAT"
	EnvReadMaxFPS        = "TEMPUS_READ_MAX_FPS"
	EnvMaxReadThreads    = "TEMPUS_MAX_READ_THREADS"
	EnvTelemetryEnabled  = "TEMPUS_TELEMETRY_ENABLED"
	EnvTelemetryExporter = "TEMPUS_TELEMETRY_EXPORTER"
	EnvTelemetryEndpoint = "TEMPUS_TELEMETRY_ENDPOINT"
	EnvTelemetrySampling = "TEMPUS_TELEMETRY_SAMPLING_RATE"
	EnvShutdownTimeout   = "TEMPUS_SHUTDOWN_TIMEOUT"
)

// parseEnv looks key up and converts it with parse. Empty, unset and
// unparsable values fall back to def; the chosen source is logged.
func parseEnv[T any](logger zerolog.Logger, key string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(key)
	switch {
	case !ok:
		logger.Debug().
			Str("key", key).
			Interface("default", def).
			Str("source", "default").
			Msg("using default value")
		return def
	case v == "":
		logger.Debug().
			Str("key", key).
			Interface("default", def).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return def
	}
	out, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", def).
			Msg("invalid value in environment variable, using default")
		return def
	}
	logger.Debug().
		Str("key", key).
		Interface("value", out).
		Str("source", "environment").
		Msg("using environment variable")
	return out
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from environment variable or returns default value.
// It falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(log.WithComponent("config"), key, defaultValue, strconv.Atoi)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(log.WithComponent("config"), key, defaultValue, time.ParseDuration)
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(log.WithComponent("config"), key, defaultValue, parseBool)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, strconv.ErrSyntax
}

// mergeEnv applies the TEMPUS_* overrides to cfg.
func mergeEnv(cfg *Config) {
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)
	cfg.SessionFile = ParseString(EnvSessionFile, cfg.SessionFile)

	cfg.API.ListenAddr = ParseString(EnvListenAddr, cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(EnvRateLimit, cfg.API.RateLimit)

	pb := &cfg.Playback
	pb.PlaySpeed = ParseFloat(EnvPlaySpeed, pb.PlaySpeed)
	pb.UsePlaySpeed = ParseBool(EnvUsePlaySpeed, pb.UsePlaySpeed)
	pb.MissFramesEnabled = ParseBool(EnvMissFrames, pb.MissFramesEnabled)
	pb.Repeat = ParseBool(EnvRepeat, pb.Repeat)
	pb.ReadMaxFPS = ParseInt(EnvReadMaxFPS, pb.ReadMaxFPS)
	pb.MaxReadThreadCount = ParseInt(EnvMaxReadThreads, pb.MaxReadThreadCount)

	tc := &cfg.Telemetry
	tc.Enabled = ParseBool(EnvTelemetryEnabled, tc.Enabled)
	tc.ExporterType = ParseString(EnvTelemetryExporter, tc.ExporterType)
	tc.Endpoint = ParseString(EnvTelemetryEndpoint, tc.Endpoint)
	tc.SamplingRate = ParseFloat(EnvTelemetrySampling, tc.SamplingRate)
}
