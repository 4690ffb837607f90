// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/tempus/internal/archive"
	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Archive content names.
const (
	contentSettings = "settings"
	contentChildren = "children"
	contentTime     = "time"
)

// ChildRecord is the persisted form of one child.
type ChildRecord struct {
	Name       string               `yaml:"name"`
	Kind       string               `yaml:"kind"`
	Path       string               `yaml:"path,omitempty"`
	Enabled    bool                 `yaml:"enabled"`
	Open       bool                 `yaml:"open"`
	Transforms []timeline.Transform `yaml:"transforms,omitempty"`
}

// Save writes the settings, the children and the current time to w.
func (p *Pool) Save(w archive.Writer) error {
	var records []ChildRecord
	for _, c := range p.Children() {
		dev := c.Device
		records = append(records, ChildRecord{
			Name:       dev.Name(),
			Kind:       dev.Kind(),
			Path:       dev.Path(),
			Enabled:    dev.Enabled(),
			Open:       dev.OpenMode()&device.ModeRead != 0,
			Transforms: dev.Filter().Transforms(),
		})
	}
	if err := w.Content(contentSettings, p.Settings()); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := w.Content(contentChildren, records); err != nil {
		return fmt.Errorf("save children: %w", err)
	}
	p.mu.RLock()
	t := p.readTime
	p.mu.RUnlock()
	if err := w.Content(contentTime, t); err != nil {
		return fmt.Errorf("save time: %w", err)
	}
	return nil
}

// Restore applies a session written by Save. Children are matched by name;
// missing ones are created through reg. Children that fail to restore are
// skipped and reported in the returned error.
func (p *Pool) Restore(r archive.Reader, reg *device.Registry) error {
	settings := p.Settings()
	if err := r.Content(contentSettings, &settings); err != nil && !errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("restore settings: %w", err)
	}
	var records []ChildRecord
	if err := r.Content(contentChildren, &records); err != nil && !errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("restore children: %w", err)
	}
	t := timeline.Invalid
	if err := r.Content(contentTime, &t); err != nil && !errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("restore time: %w", err)
	}

	p.ApplySettings(settings)

	var errs []error
	for _, rec := range records {
		if err := p.restoreChild(rec, reg); err != nil {
			p.logger.Warn().
				Str(log.FieldEvent, "pool.restore_failed").
				Str(log.FieldDevice, rec.Name).
				Str(log.FieldKind, rec.Kind).
				Err(err).
				Msg("could not restore device")
			errs = append(errs, err)
		}
	}

	if t.Valid() {
		p.Read(context.Background(), t, true)
	}
	return errors.Join(errs...)
}

func (p *Pool) restoreChild(rec ChildRecord, reg *device.Registry) error {
	if h, ok := p.Lookup(rec.Name); ok {
		dev, err := p.Device(h)
		if err != nil {
			return err
		}
		applyRecord(dev, rec)
		return nil
	}

	if reg == nil {
		return fmt.Errorf("restore %q: no registry", rec.Name)
	}
	dev, err := reg.Create(rec.Kind)
	if err != nil {
		return fmt.Errorf("restore %q: %w", rec.Name, err)
	}
	dev.SetName(rec.Name)
	dev.SetPath(rec.Path)
	if len(rec.Transforms) > 0 {
		dev.SetFilter(timeline.NewFilter(rec.Transforms...))
	}
	dev.SetEnabled(rec.Enabled)
	if rec.Open {
		if err := dev.Open(device.ModeRead); err != nil {
			return fmt.Errorf("restore %q: %w", rec.Name, err)
		}
	}
	p.Add(dev)
	return nil
}

func applyRecord(dev *device.Device, rec ChildRecord) {
	if len(rec.Transforms) > 0 {
		dev.SetFilter(timeline.NewFilter(rec.Transforms...))
	} else {
		dev.ResetFilter()
	}
	dev.SetEnabled(rec.Enabled)
}
