// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pool aggregates devices into one timeline and dispatches
// synchronized reads over them.
//
// Thread-safety: every exported method is safe for concurrent use. Cached
// state (read devices, timeline, device type, size) is recomputed lazily
// under the exclusive lock when a dirty flag was raised by a child.
package pool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/metrics"
	"github.com/ManuGH/tempus/internal/telemetry"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Handle addresses a child device. Handles are never reused.
type Handle uint64

func (h Handle) String() string { return strconv.FormatUint(uint64(h), 10) }

type child struct {
	handle Handle
	dev    *device.Device
	named  bool
	cancel func()
}

// Child pairs a handle with the device it addresses.
type Child struct {
	Handle Handle
	Device *device.Device
}

type readCallback struct {
	id int
	fn func(timeline.Time)
}

// Pool owns a set of devices and exposes them as a single Temporal,
// Sequential or Resource source.
type Pool struct {
	logger zerolog.Logger
	tracer trace.Tracer
	broker *Broker

	// readMu serializes synchronized reads so the pool time and the
	// children's last samples always describe the same instant.
	readMu sync.Mutex

	mu             sync.RWMutex
	children       []*child
	lastHandle     Handle
	readDevices    []*device.Device
	settings       Settings
	readTime       timeline.Time
	deviceType     device.Type
	window         timeline.RangeList
	windowNoLimits timeline.RangeList
	size           int64
	callbacks      []readCallback
	nextCallback   int

	dirtyChildren atomic.Bool
	dirtyWindow   atomic.Bool
	computing     atomic.Bool
	streaming     atomic.Bool
}

// New returns an empty pool with default settings.
func New() *Pool {
	return &Pool{
		logger:     log.WithComponent("pool"),
		tracer:     telemetry.Tracer(telemetry.TracerPool),
		broker:     NewBroker(),
		settings:   DefaultSettings(),
		readTime:   timeline.Invalid,
		deviceType: device.Resource,
		size:       device.InvalidPosition,
	}
}

// Subscribe registers a subscriber for pool events.
func (p *Pool) Subscribe() *Subscription { return p.broker.Subscribe() }

// Add takes ownership of dev and returns its handle. A read-opened device is
// synchronised to the pool's current time.
func (p *Pool) Add(dev *device.Device) Handle {
	p.mu.Lock()
	p.lastHandle++
	c := &child{handle: p.lastHandle, dev: dev}
	c.cancel = dev.Observe(p.observe)
	p.children = append(p.children, c)
	count := len(p.children)
	p.dirtyChildren.Store(true)
	p.dirtyWindow.Store(true)
	p.mu.Unlock()

	metrics.PoolChildren.Set(float64(count))
	p.refresh()

	p.logger.Debug().
		Str(log.FieldEvent, "pool.child_added").
		Stringer(log.FieldHandle, c.handle).
		Str(log.FieldDevice, dev.Name()).
		Str(log.FieldKind, dev.Kind()).
		Msg("device added to pool")
	p.broker.Publish(Event{Kind: EventChildAdded, Handle: c.handle, Name: dev.Name()})

	p.syncChild(context.Background(), dev)
	return c.handle
}

// syncChild aligns a newly added read-opened device with the pool time.
func (p *Pool) syncChild(ctx context.Context, dev *device.Device) {
	if dev.OpenMode() != device.ModeRead {
		return
	}
	cur := p.Time()
	switch dev.Type() {
	case device.Resource:
		dev.Read(cur, false)
		return
	case device.Sequential:
		return
	}

	first, last := dev.FirstTime(), dev.LastTime()
	switch {
	case !cur.Valid():
		dev.Read(first, false)
	case first.Valid() && cur < first:
		p.Read(ctx, first, false)
	case last.Valid() && cur > last:
		p.Read(ctx, last, false)
	default:
		dev.Read(cur, false)
	}
}

// Remove closes the device addressed by h and drops it from the pool.
func (p *Pool) Remove(h Handle) error {
	p.mu.Lock()
	idx := slices.IndexFunc(p.children, func(c *child) bool { return c.handle == h })
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	c := p.children[idx]
	p.children = slices.Delete(p.children, idx, idx+1)
	count := len(p.children)
	p.dirtyChildren.Store(true)
	p.dirtyWindow.Store(true)
	p.mu.Unlock()

	c.cancel()
	err := c.dev.Close()
	metrics.PoolChildren.Set(float64(count))

	p.logger.Debug().
		Str(log.FieldEvent, "pool.child_removed").
		Stringer(log.FieldHandle, h).
		Str(log.FieldDevice, c.dev.Name()).
		Msg("device removed from pool")
	p.broker.Publish(Event{Kind: EventChildRemoved, Handle: h, Name: c.dev.Name()})
	p.refresh()
	return err
}

// Clear closes and removes every child.
func (p *Pool) Clear() {
	p.mu.Lock()
	children := p.children
	p.children = nil
	p.dirtyChildren.Store(true)
	p.dirtyWindow.Store(true)
	p.mu.Unlock()

	metrics.PoolChildren.Set(0)
	for _, c := range children {
		c.cancel()
		if err := c.dev.Close(); err != nil {
			p.logger.Warn().
				Str(log.FieldEvent, "pool.close_failed").
				Str(log.FieldDevice, c.dev.Name()).
				Err(err).
				Msg("closing removed device failed")
		}
		p.broker.Publish(Event{Kind: EventChildRemoved, Handle: c.handle, Name: c.dev.Name()})
	}
	p.refresh()
}

// Device returns the device addressed by h.
func (p *Pool) Device(h Handle) (*device.Device, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.children {
		if c.handle == h {
			return c.dev, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
}

// Lookup returns the handle of the child named name.
func (p *Pool) Lookup(name string) (Handle, bool) {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.children {
		if c.dev.Name() == name {
			return c.handle, true
		}
	}
	return 0, false
}

// Handles lists child handles in insertion order.
func (p *Pool) Handles() []Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Handle, len(p.children))
	for i, c := range p.children {
		out[i] = c.handle
	}
	return out
}

// Children lists children in insertion order.
func (p *Pool) Children() []Child {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Child, len(p.children))
	for i, c := range p.children {
		out[i] = Child{Handle: c.handle, Device: c.dev}
	}
	return out
}

// ReadDevices lists the children that are read-opened or can be opened for
// reading.
func (p *Pool) ReadDevices() []*device.Device {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.readDevices)
}

func (p *Pool) observe(_ *device.Device, c device.Change) {
	switch c {
	case device.ChangeTime, device.ChangeStreaming:
		return
	case device.ChangeOpened, device.ChangeClosed, device.ChangeEnabled:
		p.dirtyChildren.Store(true)
	}
	p.dirtyWindow.Store(true)
}

// refresh recomputes dirty caches and publishes the resulting transitions.
func (p *Pool) refresh() {
	if !p.dirtyChildren.Load() && !p.dirtyWindow.Load() {
		return
	}
	if p.computing.Load() {
		return
	}
	p.mu.Lock()
	if !p.computing.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	events := p.recomputeLocked()
	p.computing.Store(false)
	p.mu.Unlock()

	for _, e := range events {
		p.broker.Publish(e)
	}
}

func (p *Pool) recomputeLocked() []Event {
	if p.dirtyChildren.Swap(false) {
		p.computeChildrenLocked()
		p.dirtyWindow.Store(true)
	}
	if !p.dirtyWindow.Swap(false) {
		return nil
	}
	return p.computeWindowLocked()
}

func (p *Pool) computeChildrenLocked() {
	metrics.IncPoolRecompute("children")

	taken := make(map[string]struct{}, len(p.children))
	for _, c := range p.children {
		if c.named {
			taken[c.dev.Name()] = struct{}{}
		}
	}
	for _, c := range p.children {
		if c.named {
			continue
		}
		base := c.dev.Name()
		if base == "" {
			base = c.dev.Kind()
		}
		name := base
		for i := 1; ; i++ {
			if _, ok := taken[name]; !ok {
				break
			}
			name = base + "_" + strconv.Itoa(i)
		}
		c.dev.SetName(name)
		c.named = true
		taken[name] = struct{}{}
	}

	p.readDevices = nil
	for _, c := range p.children {
		if c.dev.OpenMode()&device.ModeRead != 0 || c.dev.SupportsMode(device.ModeRead) {
			p.readDevices = append(p.readDevices, c.dev)
		}
	}
}

func (p *Pool) computeWindowLocked() []Event {
	metrics.IncPoolRecompute("time_window")

	typ := device.Resource
	var (
		lists       []timeline.RangeList
		contributor *device.Device
	)
	for _, dev := range p.readDevices {
		if !dev.Enabled() {
			continue
		}
		switch dev.Type() {
		case device.Temporal:
			typ = device.Temporal
		case device.Sequential:
			if typ == device.Resource {
				typ = device.Sequential
			}
		}
		if !dev.IsOpen() || dev.Type() != device.Temporal || dev.Size() == 1 {
			continue
		}
		lists = append(lists, dev.TimeWindow())
		contributor = dev
	}

	noLimits := timeline.Union(lists...)
	window := noLimits
	if p.settings.UseTimeLimits && len(noLimits) > 0 {
		first, last := noLimits.First(), noLimits.Last()
		if p.settings.StopBeginTime.Valid() {
			first = p.settings.StopBeginTime
		}
		if p.settings.StopEndTime.Valid() {
			last = p.settings.StopEndTime
		}
		window = noLimits.Clamp(first, last)
	}

	p.size = device.InvalidPosition
	if len(lists) == 1 {
		p.size = contributor.Size()
	}

	var events []Event
	if typ != p.deviceType {
		p.deviceType = typ
		events = append(events, Event{Kind: EventDeviceTypeChanged, DeviceType: typ})
	}
	if !window.Equal(p.window) || !noLimits.Equal(p.windowNoLimits) {
		p.window = window
		p.windowNoLimits = noLimits
		events = append(events, Event{Kind: EventTimeWindowChanged, Window: window.Clone()})
		p.logger.Debug().
			Str(log.FieldEvent, "pool.window_changed").
			Stringer(log.FieldWindow, window).
			Msg("pool time window changed")
	}
	return events
}

// DeviceType returns Temporal if any enabled child is Temporal, else
// Sequential if any is Sequential, else Resource.
func (p *Pool) DeviceType() device.Type {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deviceType
}

// TimeWindow returns the pool timeline, clamped to the stop times when time
// limits are in use.
func (p *Pool) TimeWindow() timeline.RangeList {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.window.Clone()
}

// TimeWindowNoLimits returns the union of the children timelines.
func (p *Pool) TimeWindowNoLimits() timeline.RangeList {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.windowNoLimits.Clone()
}

func (p *Pool) FirstTime() timeline.Time { return p.TimeWindow().First() }

func (p *Pool) LastTime() timeline.Time { return p.TimeWindow().Last() }

// Size returns the sample count of the single Temporal contributor, or
// InvalidPosition when zero or several children contribute.
func (p *Pool) Size() int64 {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Time returns the last read time, or the first time of the window before
// any read.
func (p *Pool) Time() timeline.Time {
	p.refresh()
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.readTime.Valid() {
		return p.readTime
	}
	return p.window.First()
}

// Open opens every child supporting mode. mode must be exactly one of
// ModeRead or ModeWrite. It returns an error joining the child failures.
func (p *Pool) Open(mode device.OpenMode) error {
	if mode != device.ModeRead && mode != device.ModeWrite {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	var errs []error
	for _, c := range p.Children() {
		if !c.Device.SupportsMode(mode) {
			continue
		}
		if err := c.Device.Open(mode); err != nil {
			errs = append(errs, err)
		}
	}
	p.refresh()
	return errors.Join(errs...)
}

// Close closes every child.
func (p *Pool) Close() error {
	var errs []error
	for _, c := range p.Children() {
		if err := c.Device.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.streaming.Store(false)
	p.refresh()
	return errors.Join(errs...)
}

// IsOpen reports whether at least one child is open.
func (p *Pool) IsOpen() bool {
	for _, c := range p.Children() {
		if c.Device.IsOpen() {
			return true
		}
	}
	return false
}
