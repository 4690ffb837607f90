// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires configuration, devices, the pool, the playback
// engine and the control API into one process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/tempus/internal/api"
	"github.com/ManuGH/tempus/internal/archive"
	"github.com/ManuGH/tempus/internal/config"
	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/directory"
	"github.com/ManuGH/tempus/internal/health"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/playback"
	"github.com/ManuGH/tempus/internal/pool"
	"github.com/ManuGH/tempus/internal/telemetry"
)

// Options configure a daemon beyond the loaded config.
type Options struct {
	Version         string
	ShutdownTimeout time.Duration
}

// Daemon owns one pool and everything attached to it.
type Daemon struct {
	opts     Options
	holder   *config.Holder
	registry *device.Registry
	pool     *pool.Pool
	engine   *playback.Engine
	api      *api.Server
	logger   zerolog.Logger
	watched  []*directory.Aggregator
}

// New builds the daemon from the active config of holder. Devices that fail
// to build are logged and skipped; the saved session is restored last.
func New(holder *config.Holder, opts Options) (*Daemon, error) {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	cfg := holder.Get()
	logger := log.WithComponent("daemon")

	reg, err := NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	p := pool.New()
	p.ApplySettings(cfg.Playback)

	d := &Daemon{
		opts:     opts,
		holder:   holder,
		registry: reg,
		pool:     p,
		logger:   logger,
	}

	for _, dc := range cfg.Devices {
		dev, err := BuildDevice(reg, dc)
		if err != nil {
			logger.Error().
				Err(err).
				Str(log.FieldEvent, "daemon.device_failed").
				Str(log.FieldKind, dc.Kind).
				Str(log.FieldPath, dc.Path).
				Msg("skipping device")
			continue
		}
		h := p.Add(dev)
		if dc.Directory != nil && dc.Directory.Watch {
			if agg, ok := dev.Driver().(*directory.Aggregator); ok {
				d.watched = append(d.watched, agg)
			}
		}
		logger.Info().
			Str(log.FieldEvent, "daemon.device_added").
			Str(log.FieldHandle, h.String()).
			Str(log.FieldDevice, dev.Name()).
			Str(log.FieldKind, dev.Kind()).
			Msg("device added")
	}

	if err := d.restoreSession(cfg.SessionFile); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "daemon.restore_failed").
			Str(log.FieldPath, cfg.SessionFile).
			Msg("session restored partially")
	}

	d.engine = playback.New(p)
	var save api.SessionSaver
	if cfg.SessionFile != "" {
		save = d.SaveSession
	}
	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = cfg.Telemetry.ServiceName
	}
	hm := health.NewManager(opts.Version)
	hm.RegisterChecker(health.NewPoolChecker(p))
	hm.RegisterChecker(health.NewDeviceChecker(p))
	hm.RegisterChecker(health.NewSessionChecker(cfg.SessionFile))
	d.api = api.New(api.Config{
		ListenAddr:      cfg.API.ListenAddr,
		RateLimit:       cfg.API.RateLimit,
		TracingService:  tracing,
		Health:          hm,
		ShutdownTimeout: opts.ShutdownTimeout,
	}, d.engine, save)
	return d, nil
}

// Pool returns the daemon's pool.
func (d *Daemon) Pool() *pool.Pool { return d.pool }

// Engine returns the daemon's playback engine.
func (d *Daemon) Engine() *playback.Engine { return d.engine }

// API returns the control server.
func (d *Daemon) API() *api.Server { return d.api }

func (d *Daemon) restoreSession(path string) error {
	if path == "" {
		return nil
	}
	doc, err := archive.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := d.pool.Restore(doc.AsReader(), d.registry); err != nil {
		return err
	}
	d.logger.Info().
		Str(log.FieldEvent, "daemon.session_restored").
		Str(log.FieldPath, path).
		Int64(log.FieldTime, int64(d.pool.Time())).
		Msg("session restored")
	return nil
}

// SaveSession writes the pool session to the configured session file.
func (d *Daemon) SaveSession(ctx context.Context) (string, error) {
	path := d.holder.Get().SessionFile
	if path == "" {
		return "", api.ErrSessionDisabled
	}
	doc := archive.New()
	if err := d.pool.Save(doc.AsWriter()); err != nil {
		return "", err
	}
	if err := doc.Save(ctx, path); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	d.logger.Info().
		Str(log.FieldEvent, "daemon.session_saved").
		Str(log.FieldPath, path).
		Msg("session saved")
	return path, nil
}

// Run serves until ctx is done or a component fails, then stops playback,
// saves the session and closes the pool.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str("version", d.opts.Version).
		Int("devices", len(d.pool.Handles())).
		Msg("daemon started")

	reloads := make(chan config.Config, 1)
	d.holder.RegisterListener(reloads)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.api.ListenAndServe(gctx) })
	g.Go(func() error { return d.holder.Watch(gctx) })
	g.Go(func() error {
		d.applyReloads(gctx, reloads)
		return nil
	})
	for _, agg := range d.watched {
		g.Go(func() error { return d.watchDirectory(gctx, agg) })
	}
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, d.shutdown(shutdownCtx))
}

func (d *Daemon) applyReloads(ctx context.Context, reloads <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-reloads:
			if err := log.SetLevel(cfg.LogLevel); err != nil {
				d.logger.Warn().Err(err).Msg("keeping log level")
			}
			d.pool.ApplySettings(cfg.Playback)
			d.logger.Info().
				Str(log.FieldEvent, "daemon.settings_applied").
				Float64(log.FieldSpeed, cfg.Playback.PlaySpeed).
				Msg("playback settings applied")
		}
	}
}

// watchDirectory reopens the directory device whenever its listing changes.
func (d *Daemon) watchDirectory(ctx context.Context, agg *directory.Aggregator) error {
	var target *device.Device
	for _, c := range d.pool.Children() {
		if c.Device.Driver() == agg {
			target = c.Device
		}
	}
	if target == nil {
		return nil
	}
	err := agg.Watch(ctx, func() {
		t := d.pool.Time()
		if err := target.Close(); err != nil {
			d.logger.Warn().Err(err).Str(log.FieldDevice, target.Name()).Msg("close before reopen")
		}
		if err := target.Open(device.ModeRead); err != nil {
			d.logger.Error().
				Err(err).
				Str(log.FieldEvent, "daemon.reopen_failed").
				Str(log.FieldDevice, target.Name()).
				Msg("directory reopen failed")
			return
		}
		if t.Valid() {
			d.pool.Read(ctx, t, true)
		}
	})
	if err != nil && ctx.Err() == nil {
		// A directory that cannot be watched must not take the daemon down.
		d.logger.Warn().Err(err).Str(log.FieldDevice, target.Name()).Msg("directory watch stopped")
	}
	return nil
}

func (d *Daemon) shutdown(ctx context.Context) error {
	d.logger.Info().Str(log.FieldEvent, "daemon.stopping").Msg("shutting down")
	d.engine.Stop()

	var errs []error
	if d.holder.Get().SessionFile != "" {
		if _, err := d.SaveSession(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pool: %w", err))
	}
	d.pool.Clear()

	d.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return errors.Join(errs...)
}

// InitTelemetry installs the tracer provider for cfg. The returned provider
// must be shut down on exit.
func InitTelemetry(ctx context.Context, cfg config.Config, version string) (*telemetry.Provider, error) {
	tc := cfg.Telemetry
	tc.ServiceVersion = version
	kinds := make([]string, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		kinds = append(kinds, dc.Kind)
	}
	tc.Attributes = append(tc.Attributes,
		attribute.Int("tempus.devices", len(cfg.Devices)),
		attribute.StringSlice("tempus.device_kinds", kinds),
		attribute.Bool("tempus.session", cfg.SessionFile != ""),
	)
	return telemetry.NewProvider(ctx, tc)
}
