// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// tempusd serves a pool of time-indexed devices over HTTP.
//
// Usage:
//
//	tempusd -config tempus.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/tempus/internal/config"
	"github.com/ManuGH/tempus/internal/daemon"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("tempusd", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	}

	// The level is raised or lowered once the config is known.
	log.Configure(log.Config{
		Level:   config.ParseString(config.EnvLogLevel, "info"),
		Service: "tempusd",
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	path := strings.TrimSpace(*configPath)
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
		return 1
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn().Err(err).Msg("keeping default log level")
	}
	source := "defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("source", source).
		Str(log.FieldPath, path).
		Int("devices", len(cfg.Devices)).
		Msg("configuration loaded")

	tp, err := daemon.InitTelemetry(ctx, cfg, version.Version)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry initialization failed, continuing without tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown error")
		}
	}()

	d, err := daemon.New(config.NewHolder(cfg, loader), daemon.Options{
		Version:         version.Version,
		ShutdownTimeout: config.ParseDuration(config.EnvShutdownTimeout, 10*time.Second),
	})
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.init_failed").Msg("failed to build daemon")
		return 1
	}
	if err := d.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		return 1
	}
	return 0
}
