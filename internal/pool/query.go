// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/timeline"
)

// readable returns the enabled read-opened devices.
func (p *Pool) readable() []*device.Device {
	var out []*device.Device
	for _, dev := range p.ReadDevices() {
		if dev.OpenMode()&device.ModeRead != 0 && dev.Enabled() {
			out = append(out, dev)
		}
	}
	return out
}

// NextTime returns the smallest child sample time strictly after t, or
// Invalid.
func (p *Pool) NextTime(t timeline.Time) timeline.Time {
	res := timeline.Invalid
	for _, dev := range p.readable() {
		c := dev.NextTime(t)
		if c.Valid() && c > t && (res == timeline.Invalid || c < res) {
			res = c
		}
	}
	return res
}

// PreviousTime returns the largest child sample time strictly before t, or
// Invalid.
func (p *Pool) PreviousTime(t timeline.Time) timeline.Time {
	res := timeline.Invalid
	for _, dev := range p.readable() {
		c := dev.PreviousTime(t)
		if c.Valid() && c < t && (res == timeline.Invalid || c > res) {
			res = c
		}
	}
	return res
}

// ClosestTime clamps t to the pool window and returns the nearest child
// sample time. Without any candidate the clamped t is returned.
func (p *Pool) ClosestTime(t timeline.Time) timeline.Time {
	return p.closest(t, p.TimeWindow())
}

// ClosestTimeNoLimits is ClosestTime over the window without stop limits.
func (p *Pool) ClosestTimeNoLimits(t timeline.Time) timeline.Time {
	return p.closest(t, p.TimeWindowNoLimits())
}

func (p *Pool) closest(t timeline.Time, window timeline.RangeList) timeline.Time {
	if len(window) > 0 {
		b := window.Bounds()
		t = min(max(t, b.First), b.Second)
	}
	res := timeline.Invalid
	var best timeline.Time
	for _, dev := range p.readable() {
		c := dev.ClosestTime(t)
		if !c.Valid() {
			continue
		}
		d := timeline.Abs(timeline.Sub(t, c))
		if res == timeline.Invalid || d < best {
			res, best = c, d
		}
	}
	if res == timeline.Invalid {
		return t
	}
	return res
}

// temporalContributor returns the first enabled Temporal child with more
// than one sample, if the pool has a known size.
func (p *Pool) temporalContributor() *device.Device {
	if p.Size() <= 0 {
		return nil
	}
	for _, dev := range p.ReadDevices() {
		if dev.Type() == device.Temporal && dev.Enabled() && dev.Size() > 1 {
			return dev
		}
	}
	return nil
}

// PosToTime maps a sample position to a time through the contributing child.
func (p *Pool) PosToTime(pos int64) timeline.Time {
	if dev := p.temporalContributor(); dev != nil {
		return dev.PosToTime(pos)
	}
	return timeline.Invalid
}

// TimeToPos maps a time to a sample position through the contributing child.
func (p *Pool) TimeToPos(t timeline.Time) int64 {
	if dev := p.temporalContributor(); dev != nil {
		return dev.TimeToPos(t)
	}
	return device.InvalidPosition
}
