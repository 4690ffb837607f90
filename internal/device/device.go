// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/metrics"
	"github.com/ManuGH/tempus/internal/sink"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Device wraps a Driver with the behaviour shared by every data source.
//
// Thread-safety: all methods are safe for concurrent use. Reads of one
// device are serialized; distinct devices can be read in parallel.
type Device struct {
	driver Driver
	logger zerolog.Logger

	mu         sync.RWMutex
	name       string
	path       string
	mode       OpenMode
	enabled    bool
	filter     timeline.Filter
	native     timeline.RangeList
	readTime   timeline.Time
	lastErr    error
	lastSample *sink.Sample
	consumers  []sink.Consumer

	streamMu  sync.Mutex
	streaming atomic.Bool

	obsMu     sync.Mutex
	observers map[int]func(*Device, Change)
	nextObs   int
}

// New wraps driver. The device starts closed, enabled and named after the
// driver kind.
func New(driver Driver) *Device {
	return &Device{
		driver:   driver,
		name:     driver.Kind(),
		enabled:  true,
		readTime: timeline.Invalid,
		logger:   log.WithComponent("device").With().Str(log.FieldKind, driver.Kind()).Logger(),
	}
}

// Driver returns the wrapped driver.
func (d *Device) Driver() Driver { return d.driver }

// Kind returns the driver kind.
func (d *Device) Kind() string { return d.driver.Kind() }

// Type returns the device type reported by the driver.
func (d *Device) Type() Type { return d.driver.Type() }

func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Device) SetName(name string) {
	d.mu.Lock()
	d.name = name
	d.mu.Unlock()
}

func (d *Device) Path() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.path
}

// SetPath sets the location passed to the driver on the next Open.
func (d *Device) SetPath(path string) {
	d.mu.Lock()
	d.path = path
	d.mu.Unlock()
}

func (d *Device) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *Device) SetEnabled(enabled bool) {
	d.mu.Lock()
	changed := d.enabled != enabled
	d.enabled = enabled
	d.mu.Unlock()
	if changed {
		d.notify(ChangeEnabled)
	}
}

// OpenMode returns the current open mode.
func (d *Device) OpenMode() OpenMode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

func (d *Device) IsOpen() bool { return d.OpenMode() != ModeNone }

// SupportsMode reports whether the driver accepts mode.
func (d *Device) SupportsMode(mode OpenMode) bool {
	return mode != ModeNone && d.driver.SupportedModes()&mode == mode
}

// LastError returns the most recent failure, if any.
func (d *Device) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// ClearError resets the error slot.
func (d *Device) ClearError() {
	d.mu.Lock()
	d.lastErr = nil
	d.mu.Unlock()
}

func (d *Device) setError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *Device) String() string { return d.Name() }

// Open opens the driver in mode. Reopening in the same mode is a no-op; a
// different mode closes first. On failure the driver is closed again and
// the device stays closed.
func (d *Device) Open(mode OpenMode) error {
	if mode == ModeNone {
		return d.Close()
	}
	if current := d.OpenMode(); current == mode {
		return nil
	} else if current != ModeNone {
		if err := d.Close(); err != nil {
			return err
		}
	}

	kind := d.driver.Kind()
	if !d.SupportsMode(mode) {
		err := fmt.Errorf("%w: %s does not support mode %s", ErrOpen, kind, mode)
		d.setError(err)
		metrics.IncDeviceOpen(kind, false)
		return err
	}

	d.mu.Lock()
	path := d.path
	if err := d.driver.Open(path, mode); err != nil {
		_ = d.driver.Close()
		d.lastErr = fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
		err = d.lastErr
		name := d.name
		d.mu.Unlock()
		metrics.IncDeviceOpen(kind, false)
		d.logger.Warn().
			Str(log.FieldEvent, "device.open_failed").
			Str(log.FieldDevice, name).
			Str(log.FieldPath, path).
			Err(err).
			Msg("device open failed")
		return err
	}
	d.mode = mode
	d.readTime = timeline.Invalid
	d.lastErr = nil
	d.refreshLocked()
	name, window := d.name, d.windowLocked()
	d.mu.Unlock()

	metrics.IncDeviceOpen(kind, true)
	d.logger.Debug().
		Str(log.FieldEvent, "device.opened").
		Str(log.FieldDevice, name).
		Str(log.FieldPath, path).
		Str(log.FieldWindow, window.String()).
		Msg("device opened")
	d.notify(ChangeOpened)
	d.notify(ChangeTimeWindow)
	return nil
}

// Close closes the driver. Closing a closed device is a no-op.
func (d *Device) Close() error {
	if d.streaming.Load() {
		d.SetStreamingEnabled(false)
	}

	d.mu.Lock()
	if d.mode == ModeNone {
		d.mu.Unlock()
		return nil
	}
	err := d.driver.Close()
	d.mode = ModeNone
	d.readTime = timeline.Invalid
	d.native = nil
	d.filter.SetInput(nil)
	d.lastSample = nil
	if err != nil {
		d.lastErr = err
	}
	d.mu.Unlock()

	d.notify(ChangeClosed)
	d.notify(ChangeTimeWindow)
	return err
}

// RefreshTimeWindow re-reads the driver window after the driver changed its
// timeline while open.
func (d *Device) RefreshTimeWindow() {
	d.mu.Lock()
	if d.mode == ModeNone {
		d.mu.Unlock()
		return
	}
	d.refreshLocked()
	d.mu.Unlock()
	d.notify(ChangeTimeWindow)
}

func (d *Device) refreshLocked() {
	d.native = d.driver.TimeWindow().Normalize()
	d.filter.SetInput(d.native)
}

// SetFilter installs a timestamping filter bound to the native window.
func (d *Device) SetFilter(f timeline.Filter) {
	d.mu.Lock()
	d.filter = f.Clone()
	d.filter.SetInput(d.native)
	d.mu.Unlock()
	d.notify(ChangeFilter)
	d.notify(ChangeTimeWindow)
}

// ResetFilter removes the timestamping filter.
func (d *Device) ResetFilter() {
	d.mu.Lock()
	if d.filter.Empty() {
		d.mu.Unlock()
		return
	}
	d.filter.Reset()
	d.mu.Unlock()
	d.notify(ChangeFilter)
	d.notify(ChangeTimeWindow)
}

// Filter returns a copy of the current filter.
func (d *Device) Filter() timeline.Filter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filter.Clone()
}

// NativeTimeWindow returns the unfiltered coverage.
func (d *Device) NativeTimeWindow() timeline.RangeList {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.native.Clone()
}

// TimeWindow returns the filtered coverage, or the native one without filter.
func (d *Device) TimeWindow() timeline.RangeList {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.windowLocked().Clone()
}

func (d *Device) windowLocked() timeline.RangeList {
	if !d.filter.Empty() {
		return d.filter.Output()
	}
	return d.native
}

// FirstTime returns the first time of the window, or Invalid.
func (d *Device) FirstTime() timeline.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.windowLocked().First()
}

// LastTime returns the last time of the window, or Invalid.
func (d *Device) LastTime() timeline.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.windowLocked().Last()
}

// TimeLimits returns (first, last) of the window.
func (d *Device) TimeLimits() timeline.Range {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w := d.windowLocked()
	return timeline.Range{First: w.First(), Second: w.Last()}
}

// Time returns the last read time, or the first time before any read.
func (d *Device) Time() timeline.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timeLocked()
}

func (d *Device) timeLocked() timeline.Time {
	if d.readTime == timeline.Invalid {
		return d.windowLocked().First()
	}
	return d.readTime
}

// TransformTime maps a native time to the device timeline. Without filter it
// snaps to the closest sample. inside reports whether t was covered.
func (d *Device) TransformTime(t timeline.Time) (timeline.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res, inside, _ := d.transformLocked(t)
	return res, inside
}

// InvTransformTime maps a device time back to the native timeline.
func (d *Device) InvTransformTime(t timeline.Time) (timeline.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res, inside, _ := d.invTransformLocked(t)
	return res, inside
}

func (d *Device) transformLocked(t timeline.Time) (res timeline.Time, inside, exact bool) {
	if !t.Valid() {
		return t, true, true
	}
	if !d.filter.Empty() {
		res, inside = d.filter.Transform(t)
		return res, inside, true
	}
	res = d.rawClosestLocked(t)
	return res, d.native.Contains(t), res == t
}

func (d *Device) invTransformLocked(t timeline.Time) (res timeline.Time, inside, exact bool) {
	if !t.Valid() {
		return t, true, true
	}
	if !d.filter.Empty() {
		res, inside = d.filter.Inverse(t)
		return res, inside, true
	}
	res = d.rawClosestLocked(t)
	return res, d.native.Contains(t), res == t
}

// NextTime returns the first sample time strictly after t on the device
// timeline. At the end of the timeline it returns the last sample.
func (d *Device) NextTime(t timeline.Time) timeline.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, _, _ := d.invTransformLocked(t)
	closest := d.rawClosestLocked(raw)
	if res, _, _ := d.transformLocked(closest); res.Valid() && res > t {
		return res
	}
	res, _, _ := d.transformLocked(d.rawNextLocked(closest))
	return res
}

// PreviousTime returns the last sample time strictly before t.
// At the start of the timeline it returns the first sample.
func (d *Device) PreviousTime(t timeline.Time) timeline.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, _, _ := d.invTransformLocked(t)
	closest := d.rawClosestLocked(raw)
	if res, _, _ := d.transformLocked(closest); res.Valid() && res < t {
		return res
	}
	res, _, _ := d.transformLocked(d.rawPreviousLocked(closest))
	return res
}

// ClosestTime returns the sample time closest to t.
func (d *Device) ClosestTime(t timeline.Time) timeline.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, _, _ := d.invTransformLocked(t)
	res, _, _ := d.transformLocked(d.rawClosestLocked(raw))
	return res
}

func (d *Device) positioner() (Positioner, int64, bool) {
	p, ok := d.driver.(Positioner)
	if !ok {
		return nil, 0, false
	}
	size := p.Size()
	if size <= 0 {
		return nil, 0, false
	}
	return p, size, true
}

func clampPos(pos, size int64) int64 {
	return max(0, min(pos, size-1))
}

func (d *Device) rawClosestLocked(t timeline.Time) timeline.Time {
	if !t.Valid() || d.mode == ModeNone {
		return timeline.Invalid
	}
	if s, ok := d.driver.(Stepper); ok {
		return s.ClosestTime(t)
	}
	if p, size, ok := d.positioner(); ok {
		pos := p.TimeToPos(t)
		if pos == InvalidPosition {
			return timeline.Invalid
		}
		return p.PosToTime(clampPos(pos, size))
	}
	_, closest, _ := d.native.Distance(t)
	return closest
}

func (d *Device) rawNextLocked(t timeline.Time) timeline.Time {
	if !t.Valid() {
		return timeline.Invalid
	}
	if s, ok := d.driver.(Stepper); ok {
		return s.NextTime(t)
	}
	if p, size, ok := d.positioner(); ok {
		pos := p.TimeToPos(t)
		if pos == InvalidPosition {
			return timeline.Invalid
		}
		return p.PosToTime(clampPos(pos+1, size))
	}
	for _, r := range d.native {
		if r.First > t {
			return r.First
		}
		if r.Second > t {
			return r.Second
		}
	}
	return d.native.Last()
}

func (d *Device) rawPreviousLocked(t timeline.Time) timeline.Time {
	if !t.Valid() {
		return timeline.Invalid
	}
	if s, ok := d.driver.(Stepper); ok {
		return s.PreviousTime(t)
	}
	if p, size, ok := d.positioner(); ok {
		pos := p.TimeToPos(t)
		if pos == InvalidPosition {
			return timeline.Invalid
		}
		return p.PosToTime(clampPos(pos-1, size))
	}
	for i := len(d.native) - 1; i >= 0; i-- {
		r := d.native[i]
		if r.Second < t {
			return r.Second
		}
		if r.First < t {
			return r.First
		}
	}
	return d.native.First()
}

// Size returns the number of samples: 1 for Resource, InvalidPosition for
// Sequential and drivers without positions.
func (d *Device) Size() int64 {
	switch d.driver.Type() {
	case Sequential:
		return InvalidPosition
	case Resource:
		return 1
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mode == ModeNone {
		return InvalidPosition
	}
	if _, size, ok := d.positioner(); ok {
		return size
	}
	return InvalidPosition
}

// PosToTime converts a position, clamped to the valid range, to a device time.
func (d *Device) PosToTime(pos int64) timeline.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mode == ModeNone {
		return timeline.Invalid
	}
	p, size, ok := d.positioner()
	if !ok {
		return timeline.Invalid
	}
	res, _, _ := d.transformLocked(p.PosToTime(clampPos(pos, size)))
	return res
}

// TimeToPos converts a device time, clamped to the time limits, to a position.
func (d *Device) TimeToPos(t timeline.Time) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mode == ModeNone || !t.Valid() {
		return InvalidPosition
	}
	p, _, ok := d.positioner()
	if !ok {
		return InvalidPosition
	}
	w := d.windowLocked()
	if len(w) == 0 {
		return InvalidPosition
	}
	t = max(w.First(), min(t, w.Last()))
	raw, _, _ := d.invTransformLocked(t)
	return p.TimeToPos(raw)
}

// EstimateSamplingTime returns the gap between the first two samples, or
// Invalid when the device has fewer than two samples.
func (d *Device) EstimateSamplingTime() timeline.Time {
	first := d.FirstTime()
	if !first.Valid() {
		return timeline.Invalid
	}
	next := d.NextTime(first)
	if !next.Valid() || next == first {
		return timeline.Invalid
	}
	return next - first
}

// Read presents the sample at t to connected consumers.
//
// Temporal devices snap t to the closest sample and refuse times whose
// sample falls outside the native window; a repeated t is a no-op unless
// force is set. Sequential devices read only when t changes. Resource
// devices always read.
func (d *Device) Read(t timeline.Time, force bool) bool {
	d.mu.Lock()
	if d.mode&ModeRead == 0 || !d.enabled {
		d.mu.Unlock()
		return false
	}

	raw := t
	switch d.driver.Type() {
	case Resource:
	case Sequential:
		if t == d.readTime {
			d.mu.Unlock()
			return false
		}
	default:
		if !t.Valid() || len(d.native) == 0 {
			d.mu.Unlock()
			return false
		}
		inv, _, _ := d.invTransformLocked(t)
		closest := d.rawClosestLocked(inv)
		bounds := d.native.Bounds()
		if !closest.Valid() || closest < bounds.First || closest > bounds.Second {
			d.mu.Unlock()
			return false
		}
		if t == d.readTime && !force {
			d.mu.Unlock()
			return true
		}
		raw = closest
	}

	d.readTime = t
	return d.fetchAndUnlock(raw, t)
}

// ReadCurrent reads a Sequential device at the current wall-clock time.
func (d *Device) ReadCurrent() bool {
	if d.driver.Type() != Sequential {
		return false
	}
	return d.Read(timeline.Time(time.Now().UnixNano()), false)
}

// Reload re-reads the current time without moving it. Sequential devices
// re-push their last sample unless they are streaming.
func (d *Device) Reload() bool {
	d.mu.Lock()
	if d.mode&ModeRead == 0 || !d.enabled {
		d.mu.Unlock()
		return false
	}

	switch d.driver.Type() {
	case Resource:
		return d.fetchAndUnlock(d.timeLocked(), d.timeLocked())
	case Sequential:
		last := d.lastSample
		consumers := slices.Clone(d.consumers)
		d.mu.Unlock()
		if d.streaming.Load() || last == nil || len(consumers) == 0 {
			return false
		}
		push(consumers, *last)
		return true
	}

	t := d.timeLocked()
	if !t.Valid() {
		d.mu.Unlock()
		return false
	}
	raw, _, _ := d.invTransformLocked(t)
	raw = d.rawClosestLocked(raw)
	if !raw.Valid() {
		d.mu.Unlock()
		return false
	}
	return d.fetchAndUnlock(raw, t)
}

// fetchAndUnlock reads raw from the driver, releases d.mu and forwards the
// sample stamped with stamp. Caller holds d.mu.
func (d *Device) fetchAndUnlock(raw, stamp timeline.Time) bool {
	kind := d.driver.Kind()
	value, err := d.driver.ReadAt(raw)
	if err != nil {
		d.lastErr = fmt.Errorf("%w: %s at %d: %w", ErrRead, d.name, raw, err)
		err = d.lastErr
		name := d.name
		d.mu.Unlock()
		metrics.IncDeviceRead(kind, false)
		d.logger.Warn().
			Str(log.FieldEvent, "device.read_failed").
			Str(log.FieldDevice, name).
			Int64(log.FieldTime, int64(stamp)).
			Err(err).
			Msg("device read failed")
		return false
	}
	s := sink.Sample{Time: stamp, Value: value, Source: d.name}
	d.lastSample = &s
	consumers := slices.Clone(d.consumers)
	d.mu.Unlock()

	metrics.IncDeviceRead(kind, true)
	push(consumers, s)
	d.notify(ChangeTime)
	return true
}

func push(consumers []sink.Consumer, s sink.Sample) {
	for _, c := range consumers {
		if c.Enabled() {
			c.Push(s)
		}
	}
}

// LastSample returns the most recently presented sample.
func (d *Device) LastSample() (sink.Sample, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastSample == nil {
		return sink.Sample{}, false
	}
	return *d.lastSample, true
}

// StreamingEnabled reports whether the device is streaming.
func (d *Device) StreamingEnabled() bool { return d.streaming.Load() }

// SetStreamingEnabled starts or stops streaming and reports whether the
// device ends up in the requested state. Only open Sequential devices whose
// driver implements Streamer can stream.
func (d *Device) SetStreamingEnabled(enable bool) bool {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	if !d.IsOpen() {
		d.setError(fmt.Errorf("%w: %w", ErrStreamingUnsupported, ErrNotOpen))
		return false
	}
	if d.streaming.Load() == enable {
		return true
	}
	s, ok := d.driver.(Streamer)
	if !ok || d.driver.Type() != Sequential {
		d.setError(fmt.Errorf("%w: %s", ErrStreamingUnsupported, d.Kind()))
		return false
	}
	if err := s.EnableStreaming(enable, d.emit); err != nil {
		d.setError(fmt.Errorf("%w: %w", ErrStreamingUnsupported, err))
		d.logger.Warn().
			Str(log.FieldEvent, "device.streaming_failed").
			Str(log.FieldDevice, d.Name()).
			Bool("enable", enable).
			Err(err).
			Msg("streaming toggle failed")
		return false
	}
	d.streaming.Store(enable)
	metrics.SetDeviceStreaming(d.Kind(), enable)
	d.notify(ChangeStreaming)
	return true
}

func (d *Device) emit(t timeline.Time, value any) {
	d.mu.Lock()
	if d.mode == ModeNone || !d.enabled {
		d.mu.Unlock()
		return
	}
	d.readTime = t
	s := sink.Sample{Time: t, Value: value, Source: d.name}
	d.lastSample = &s
	consumers := slices.Clone(d.consumers)
	d.mu.Unlock()

	metrics.IncDeviceRead(d.Kind(), true)
	push(consumers, s)
}

// Connect attaches a downstream consumer.
func (d *Device) Connect(c sink.Consumer) {
	d.mu.Lock()
	d.consumers = append(d.consumers, c)
	d.mu.Unlock()
}

// Disconnect detaches a consumer.
func (d *Device) Disconnect(c sink.Consumer) {
	d.mu.Lock()
	d.consumers = slices.DeleteFunc(d.consumers, func(x sink.Consumer) bool { return x == c })
	d.mu.Unlock()
}

// Consumers returns the directly connected consumers.
func (d *Device) Consumers() []sink.Consumer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.consumers)
}

// Observe registers fn for change notifications. Notifications are
// delivered synchronously without any device lock held.
func (d *Device) Observe(fn func(*Device, Change)) (cancel func()) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	if d.observers == nil {
		d.observers = make(map[int]func(*Device, Change))
	}
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

func (d *Device) notify(c Change) {
	d.obsMu.Lock()
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(*Device, Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.observers[id])
	}
	d.obsMu.Unlock()
	for _, fn := range fns {
		fn(d, c)
	}
}
