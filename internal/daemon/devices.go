// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"fmt"
	"time"

	"github.com/ManuGH/tempus/internal/config"
	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/directory"
	"github.com/ManuGH/tempus/internal/timeline"
)

// NewRegistry returns the built-in drivers plus the directory aggregator.
func NewRegistry() (*device.Registry, error) {
	reg := device.DefaultRegistry()
	if err := directory.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// BuildDevice creates the device declared by dc. It is opened for reading
// unless dc says otherwise.
func BuildDevice(reg *device.Registry, dc config.DeviceConfig) (*device.Device, error) {
	dev, err := newDevice(reg, dc)
	if err != nil {
		return nil, err
	}
	if dc.Name != "" {
		dev.SetName(dc.Name)
	}
	dev.SetPath(dc.Path)

	if len(dc.Transforms) > 0 {
		trs := make([]timeline.Transform, 0, len(dc.Transforms))
		for _, tc := range dc.Transforms {
			tr, err := tc.Transform()
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", dev.Name(), err)
			}
			trs = append(trs, tr)
		}
		dev.SetFilter(timeline.NewFilter(trs...))
	}
	dev.SetEnabled(dc.IsEnabled())

	if dc.IsOpen() {
		if err := dev.Open(device.ModeRead); err != nil {
			return nil, fmt.Errorf("open device %s: %w", dev.Name(), err)
		}
	}
	return dev, nil
}

func newDevice(reg *device.Registry, dc config.DeviceConfig) (*device.Device, error) {
	switch dc.Kind {
	case directory.Kind:
		opts, err := directoryOptions(dc.Directory)
		if err != nil {
			return nil, err
		}
		return device.New(directory.New(reg, opts)), nil

	case device.KindStream:
		var interval time.Duration
		if dc.Stream != nil {
			interval = dc.Stream.Interval
		}
		return device.New(device.NewStream(interval, nil)), nil

	case device.KindGenerator:
		g := device.NewGenerator(nil)
		if dc.Generator == nil {
			return nil, fmt.Errorf("%w: generator needs a timeline", device.ErrConfiguration)
		}
		start, err := timeline.ParseTime(dc.Generator.Start)
		if err != nil {
			return nil, err
		}
		if !start.Valid() {
			start = 0
		}
		sampling, err := timeline.ParseTime(dc.Generator.Sampling)
		if err != nil {
			return nil, err
		}
		if err := g.SetUniform(start, dc.Generator.Count, sampling); err != nil {
			return nil, err
		}
		return device.New(g), nil
	}
	return reg.Create(dc.Kind)
}

func directoryOptions(dc *config.DirectoryConfig) (directory.Options, error) {
	if dc == nil {
		return directory.Options{}, nil
	}
	mode, err := directory.ParseMode(dc.Mode)
	if err != nil {
		return directory.Options{}, err
	}
	return directory.Options{
		Recursive: dc.Recursive,
		Suffixes:  dc.Suffixes,
		Reverse:   dc.Reverse,
		Start:     dc.Start,
		Count:     dc.Count,
		Mode:      mode,
		Templates: dc.Templates,
	}, nil
}
