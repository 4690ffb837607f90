// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/directory"
	"github.com/ManuGH/tempus/internal/telemetry"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Kinds lists the device kinds a config may declare.
func Kinds() []string {
	return append(device.DefaultRegistry().Kinds(), directory.Kind)
}

// Validate reports every problem in cfg at once. The returned error wraps
// ErrInvalidConfig.
func Validate(cfg Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		add("logLevel: unknown level %q", cfg.LogLevel)
	}

	pb := cfg.Playback
	if !(pb.PlaySpeed > 0) {
		add("playback.playSpeed: must be positive, got %v", pb.PlaySpeed)
	}
	if pb.ReadMaxFPS < 0 {
		add("playback.readMaxFPS: must not be negative")
	}
	if pb.MaxReadThreadCount < 0 {
		add("playback.maxReadThreadCount: must not be negative")
	}
	if pb.UseTimeLimits && !pb.StopBeginTime.Valid() && !pb.StopEndTime.Valid() {
		add("playback.useTimeLimits: needs stopBeginTime or stopEndTime")
	}

	if cfg.API.ListenAddr == "" {
		add("api.listenAddr: must not be empty")
	}
	if cfg.API.RateLimit < 0 {
		add("api.rateLimit: must not be negative")
	}

	tc := cfg.Telemetry
	if tc.Enabled {
		if !telemetry.SupportedExporter(tc.ExporterType) {
			add("telemetry.exporter: must be one of %v, got %q", telemetry.Exporters(), tc.ExporterType)
		}
		if tc.Endpoint == "" {
			add("telemetry.endpoint: must not be empty")
		}
	}
	if tc.SamplingRate < 0 || tc.SamplingRate > 1 {
		add("telemetry.samplingRate: must be within [0,1], got %v", tc.SamplingRate)
	}

	kinds := Kinds()
	names := make(map[string]int)
	for i, d := range cfg.Devices {
		field := fmt.Sprintf("devices[%d]", i)
		if !slices.Contains(kinds, d.Kind) {
			add("%s.kind: unknown kind %q", field, d.Kind)
		}
		if d.Name != "" {
			if prev, dup := names[d.Name]; dup {
				add("%s.name: %q already used by devices[%d]", field, d.Name, prev)
			} else {
				names[d.Name] = i
			}
		}
		for j, tr := range d.Transforms {
			if _, err := tr.Transform(); err != nil {
				add("%s.transforms[%d]: %v", field, j, err)
			}
		}
		errs = append(errs, validateDriverOptions(field, d)...)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validateDriverOptions(field string, d DeviceConfig) []error {
	var errs []error
	switch d.Kind {
	case directory.Kind:
		if d.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path: directory devices need a path", field))
		}
		if d.Directory != nil {
			if _, err := directory.ParseMode(d.Directory.Mode); err != nil {
				errs = append(errs, fmt.Errorf("%s.directory.mode: %w", field, err))
			}
			if d.Directory.Start < 0 {
				errs = append(errs, fmt.Errorf("%s.directory.start: must not be negative", field))
			}
		}
	case device.KindCSV, device.KindFile:
		if d.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path: %s devices need a path", field, d.Kind))
		}
	case device.KindStream:
		if d.Stream != nil && d.Stream.Interval < 0 {
			errs = append(errs, fmt.Errorf("%s.stream.interval: must not be negative", field))
		}
	case device.KindGenerator:
		g := d.Generator
		if g == nil {
			errs = append(errs, fmt.Errorf("%s.generator: generator devices need a timeline", field))
			break
		}
		if g.Count <= 0 {
			errs = append(errs, fmt.Errorf("%s.generator.count: must be positive", field))
		}
		if s, err := timeline.ParseTime(g.Sampling); err != nil || !(s > 0) {
			errs = append(errs, fmt.Errorf("%s.generator.sampling: must be a positive time, got %q", field, g.Sampling))
		}
		if _, err := timeline.ParseTime(g.Start); err != nil {
			errs = append(errs, fmt.Errorf("%s.generator.start: %w", field, err))
		}
	}
	return errs
}
