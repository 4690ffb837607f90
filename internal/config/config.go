// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration from a YAML file and
// TEMPUS_* environment overrides, validates it and reloads it on change.
package config

import (
	"time"

	"github.com/ManuGH/tempus/internal/pool"
	"github.com/ManuGH/tempus/internal/telemetry"
	"github.com/ManuGH/tempus/internal/timeline"
)

// FileConfig is the on-disk layout. Pointer fields distinguish an absent key
// from its zero value.
type FileConfig struct {
	LogLevel    string          `yaml:"logLevel,omitempty"`
	SessionFile string          `yaml:"sessionFile,omitempty"`
	Playback    PlaybackConfig  `yaml:"playback,omitempty"`
	Devices     []DeviceConfig  `yaml:"devices,omitempty"`
	API         APIConfig       `yaml:"api,omitempty"`
	Telemetry   TelemetryConfig `yaml:"telemetry,omitempty"`
}

// PlaybackConfig overrides the pool settings. Times accept anything
// timeline.ParseTime does ("1500", "1.5s", "invalid").
type PlaybackConfig struct {
	PlaySpeed          *float64 `yaml:"playSpeed,omitempty"`
	UsePlaySpeed       *bool    `yaml:"usePlaySpeed,omitempty"`
	MissFramesEnabled  *bool    `yaml:"missFramesEnabled,omitempty"`
	Repeat             *bool    `yaml:"repeat,omitempty"`
	Backward           *bool    `yaml:"backward,omitempty"`
	UseTimeLimits      *bool    `yaml:"useTimeLimits,omitempty"`
	StopBeginTime      string   `yaml:"stopBeginTime,omitempty"`
	StopEndTime        string   `yaml:"stopEndTime,omitempty"`
	MaxReadThreadCount *int     `yaml:"maxReadThreadCount,omitempty"`
	ReadMaxFPS         *int     `yaml:"readMaxFPS,omitempty"`
}

// DeviceConfig declares one pool child.
type DeviceConfig struct {
	Name    string `yaml:"name,omitempty"`
	Kind    string `yaml:"kind"`
	Path    string `yaml:"path,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`
	// Open defaults to true.
	Open       *bool             `yaml:"open,omitempty"`
	Transforms []TransformConfig `yaml:"transforms,omitempty"`
	Directory  *DirectoryConfig  `yaml:"directory,omitempty"`
	Stream     *StreamConfig     `yaml:"stream,omitempty"`
	Generator  *GeneratorConfig  `yaml:"generator,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (d DeviceConfig) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// IsOpen reports whether the device is opened at startup.
func (d DeviceConfig) IsOpen() bool { return d.Open == nil || *d.Open }

// TransformConfig maps the range From onto To, both in timeline.ParseRange form.
type TransformConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Transform parses both ranges.
func (t TransformConfig) Transform() (timeline.Transform, error) {
	from, err := timeline.ParseRange(t.From)
	if err != nil {
		return timeline.Transform{}, err
	}
	to, err := timeline.ParseRange(t.To)
	if err != nil {
		return timeline.Transform{}, err
	}
	return timeline.Transform{From: from, To: to}, nil
}

// DirectoryConfig holds the options of a directory device.
type DirectoryConfig struct {
	Recursive bool              `yaml:"recursive,omitempty"`
	Suffixes  []string          `yaml:"suffixes,omitempty"`
	Reverse   bool              `yaml:"reverse,omitempty"`
	Start     int               `yaml:"start,omitempty"`
	Count     int               `yaml:"count,omitempty"`
	Mode      string            `yaml:"mode,omitempty"`
	Templates map[string]string `yaml:"templates,omitempty"`
	// Watch reopens the directory when files are added or removed.
	Watch bool `yaml:"watch,omitempty"`
}

// StreamConfig configures a stream device.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
}

// GeneratorConfig gives a generator device a uniform timeline.
type GeneratorConfig struct {
	Start    string `yaml:"start,omitempty"`
	Count    int64  `yaml:"count"`
	Sampling string `yaml:"sampling"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr,omitempty"`
	// RateLimit is the number of requests per minute per client; 0 disables it.
	RateLimit *int `yaml:"rateLimit,omitempty"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ServiceName  string   `yaml:"serviceName,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}

// Config is the effective configuration after defaults, file and
// environment have been merged.
type Config struct {
	LogLevel    string
	SessionFile string
	Playback    pool.Settings
	Devices     []DeviceConfig
	API         API
	Telemetry   telemetry.Config
}

// API is the effective HTTP configuration.
type API struct {
	ListenAddr string
	RateLimit  int
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Playback: pool.DefaultSettings(),
		API: API{
			ListenAddr: ":8088",
			RateLimit:  600,
		},
		Telemetry: telemetry.Config{
			ServiceName:  "tempusd",
			Environment:  "production",
			ExporterType: telemetry.ExporterGRPC,
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
