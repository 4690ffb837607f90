// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/metrics"
	"github.com/ManuGH/tempus/internal/sink"
	"github.com/ManuGH/tempus/internal/telemetry"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Read moves the pool to t and reads every child at that time.
//
// A Temporal pool refuses an invalid t or an empty window and treats a
// repeated t as a successful no-op unless force is set. Other pools forward
// the read to their Resource and Sequential children.
func (p *Pool) Read(ctx context.Context, t timeline.Time, force bool) bool {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	p.refresh()
	p.mu.Lock()
	if p.deviceType != device.Temporal {
		devs := slices.Clone(p.readDevices)
		p.mu.Unlock()
		return readUntimed(devs, t, force)
	}
	if !t.Valid() || len(p.window) == 0 {
		p.mu.Unlock()
		return false
	}
	if t == p.readTime && !force {
		p.mu.Unlock()
		return true
	}
	p.readTime = t
	p.mu.Unlock()

	p.broker.Publish(Event{Kind: EventTimeChanged, Time: t})
	return p.readData(ctx, t)
}

func readUntimed(devs []*device.Device, t timeline.Time, force bool) bool {
	ok := false
	for _, dev := range devs {
		if dev.OpenMode()&device.ModeRead == 0 || !dev.Enabled() {
			continue
		}
		switch dev.Type() {
		case device.Resource:
			ok = dev.Read(t, force) || ok
		case device.Sequential:
			ok = dev.ReadCurrent() || ok
		}
	}
	return ok
}

// Seek reads the pool at t.
func (p *Pool) Seek(ctx context.Context, t timeline.Time) bool {
	return p.Read(ctx, t, false)
}

// SeekPos reads the pool at the time of sample position pos. It requires a
// pool with a known size.
func (p *Pool) SeekPos(ctx context.Context, pos int64) bool {
	if p.Size() <= 0 {
		return false
	}
	t := p.PosToTime(pos)
	if !t.Valid() {
		return false
	}
	return p.Read(ctx, t, false)
}

// AddReadCallback registers fn to run with the resolved time before every
// synchronized read. It returns an id for RemoveReadCallback.
func (p *Pool) AddReadCallback(fn func(timeline.Time)) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextCallback++
	p.callbacks = append(p.callbacks, readCallback{id: p.nextCallback, fn: fn})
	return p.nextCallback
}

// RemoveReadCallback unregisters the callback with the given id.
func (p *Pool) RemoveReadCallback(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = slices.DeleteFunc(p.callbacks, func(c readCallback) bool { return c.id == id })
}

// readWorkers returns the number of goroutines used to read n children
// with the given cap (0 means GOMAXPROCS).
func readWorkers(limit, n int) int {
	workers := runtime.GOMAXPROCS(0)
	if limit > 0 {
		workers = min(workers, limit)
	}
	workers = min(workers, n)
	if workers < 2 {
		return 1
	}
	return workers
}

// ReadData runs the read callbacks, then reads every enabled read-opened
// Temporal child at t. Reads run in parallel when more than one worker is
// allowed. The result is true if at least one child read succeeded.
//
// Callbacks run while the read lock is held and must not call Read,
// ReadData or Reload.
func (p *Pool) ReadData(ctx context.Context, t timeline.Time) bool {
	p.readMu.Lock()
	defer p.readMu.Unlock()
	return p.readData(ctx, t)
}

func (p *Pool) readData(ctx context.Context, t timeline.Time) bool {
	p.refresh()
	p.mu.RLock()
	callbacks := slices.Clone(p.callbacks)
	limit := p.settings.MaxReadThreadCount
	var devs []*device.Device
	for _, dev := range p.readDevices {
		if dev.OpenMode()&device.ModeRead != 0 && dev.Type() == device.Temporal && dev.Enabled() {
			devs = append(devs, dev)
		}
	}
	p.mu.RUnlock()

	for _, cb := range callbacks {
		cb.fn(t)
	}

	workers := readWorkers(limit, len(devs))
	mode := "serial"
	if workers > 1 {
		mode = "parallel"
	}
	ctx, span := p.tracer.Start(ctx, "pool.read_data",
		trace.WithAttributes(telemetry.PoolReadAttributes(int64(t), len(devs), workers, mode)...))
	defer span.End()

	start := time.Now()
	var hits atomic.Int32
	read := func(dev *device.Device) {
		if ctx.Err() != nil {
			return
		}
		dev.ClearError()
		if dev.Read(t, true) {
			hits.Add(1)
			return
		}
		if err := dev.LastError(); err != nil {
			p.logger.Debug().
				Str(log.FieldEvent, "pool.read_failed").
				Str(log.FieldDevice, dev.Name()).
				Int64(log.FieldTime, int64(t)).
				Err(err).
				Msg("child read failed")
		}
	}

	if workers > 1 {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, dev := range devs {
			g.Go(func() error {
				read(dev)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, dev := range devs {
			read(dev)
		}
	}

	ok := hits.Load() > 0
	span.SetAttributes(attribute.Bool(telemetry.PoolResultKey, ok))
	metrics.ObservePoolRead(mode, workers, time.Since(start))
	return ok
}

// Reload re-reads the current time on every read-opened non-Sequential
// child and republishes the time.
func (p *Pool) Reload(ctx context.Context) bool {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	cur := p.Time()
	ok := false
	for _, dev := range p.ReadDevices() {
		if ctx.Err() != nil {
			break
		}
		if dev.OpenMode()&device.ModeRead != 0 && dev.Type() != device.Sequential {
			ok = dev.Read(cur, true) || ok
		}
	}
	p.broker.Publish(Event{Kind: EventTimeChanged, Time: cur})
	return ok
}

// SetStreamingEnabled toggles streaming on every Sequential read device. On
// a failed enable the devices already switched on are switched off again.
func (p *Pool) SetStreamingEnabled(enable bool) bool {
	devs := p.ReadDevices()
	ok := true
	for i, dev := range devs {
		if dev.Type() != device.Sequential {
			continue
		}
		if dev.SetStreamingEnabled(enable) {
			continue
		}
		ok = false
		p.logger.Warn().
			Str(log.FieldEvent, "pool.streaming_failed").
			Str(log.FieldDevice, dev.Name()).
			Bool("enable", enable).
			Err(dev.LastError()).
			Msg("streaming toggle failed")
		if enable {
			for _, prev := range devs[:i] {
				if prev.Type() == device.Sequential {
					prev.SetStreamingEnabled(false)
				}
			}
		}
		break
	}

	state := enable && ok
	if p.streaming.Swap(state) != state {
		p.broker.Publish(Event{Kind: EventStreamingChanged, Streaming: state})
	}
	return ok
}

// StreamingEnabled reports whether the last SetStreamingEnabled(true)
// succeeded and was not undone.
func (p *Pool) StreamingEnabled() bool { return p.streaming.Load() }

// Leafs returns the terminal consumers reachable from the read devices.
func (p *Pool) Leafs() []sink.Consumer {
	var roots []sink.Consumer
	for _, dev := range p.ReadDevices() {
		roots = append(roots, dev.Consumers()...)
	}
	return sink.Leafs(roots)
}
