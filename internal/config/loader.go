// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/tempus/internal/pool"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Loader builds a Config from defaults, an optional file and the environment.
type Loader struct {
	path string
}

// NewLoader returns a loader for the file at path. An empty path loads
// defaults and environment only.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.path }

// Load merges defaults, file and environment, in that order, and validates
// the result.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		fc, err := loadFile(l.path)
		if err != nil {
			return Config{}, err
		}
		if err := mergeFile(&cfg, fc); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", l.path, err)
		}
	}

	mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile strictly decodes a single YAML document.
func loadFile(path string) (*FileConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only .yaml/.yml supported)", ext)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (*FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return &fc, nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse config: multiple YAML documents are not supported")
	}
	return &fc, nil
}

// mergeFile applies every key present in fc on top of cfg.
func mergeFile(cfg *Config, fc *FileConfig) error {
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.SessionFile != "" {
		cfg.SessionFile = fc.SessionFile
	}

	if err := mergePlayback(&cfg.Playback, fc.Playback); err != nil {
		return err
	}

	cfg.Devices = append([]DeviceConfig(nil), fc.Devices...)

	if fc.API.ListenAddr != "" {
		cfg.API.ListenAddr = fc.API.ListenAddr
	}
	setIf(&cfg.API.RateLimit, fc.API.RateLimit)

	tc := &cfg.Telemetry
	setIf(&tc.Enabled, fc.Telemetry.Enabled)
	setIf(&tc.SamplingRate, fc.Telemetry.SamplingRate)
	if fc.Telemetry.ServiceName != "" {
		tc.ServiceName = fc.Telemetry.ServiceName
	}
	if fc.Telemetry.Environment != "" {
		tc.Environment = fc.Telemetry.Environment
	}
	if fc.Telemetry.Exporter != "" {
		tc.ExporterType = fc.Telemetry.Exporter
	}
	if fc.Telemetry.Endpoint != "" {
		tc.Endpoint = fc.Telemetry.Endpoint
	}
	return nil
}

func mergePlayback(s *pool.Settings, pc PlaybackConfig) error {
	setIf(&s.PlaySpeed, pc.PlaySpeed)
	setIf(&s.UsePlaySpeed, pc.UsePlaySpeed)
	setIf(&s.MissFramesEnabled, pc.MissFramesEnabled)
	setIf(&s.Repeat, pc.Repeat)
	setIf(&s.Backward, pc.Backward)
	setIf(&s.UseTimeLimits, pc.UseTimeLimits)
	setIf(&s.MaxReadThreadCount, pc.MaxReadThreadCount)
	setIf(&s.ReadMaxFPS, pc.ReadMaxFPS)

	var err error
	if pc.StopBeginTime != "" {
		if s.StopBeginTime, err = timeline.ParseTime(pc.StopBeginTime); err != nil {
			return fmt.Errorf("playback.stopBeginTime: %w", err)
		}
	}
	if pc.StopEndTime != "" {
		if s.StopEndTime, err = timeline.ParseTime(pc.StopEndTime); err != nil {
			return fmt.Errorf("playback.stopEndTime: %w", err)
		}
	}
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
