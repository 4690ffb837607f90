// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package directory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/timeline"
)

// DefaultSampling separates consecutive files in SequenceOfData mode when no
// sub-device can estimate its sampling time.
const DefaultSampling = timeline.Time(time.Second)

const headBytes = 512

// Aggregator is a device.Driver exposing every file of a directory as one
// device. Sub-devices are created through the registry.
type Aggregator struct {
	registry *device.Registry
	logger   zerolog.Logger

	mu       sync.RWMutex
	opts     Options
	root     string
	subs     []*device.Device
	placed   []timeline.Range
	shifts   []timeline.Time
	window   timeline.RangeList
	typ      device.Type
	sampling timeline.Time
}

// New returns a closed aggregator using reg to open files.
func New(reg *device.Registry, opts Options) *Aggregator {
	return &Aggregator{
		registry: reg,
		opts:     opts.clone(),
		typ:      initialType(opts.Mode),
		logger:   log.WithComponent("directory"),
	}
}

// Register adds the directory kind to reg. Sub-devices are resolved through
// reg as well.
func Register(reg *device.Registry) error {
	return reg.Register(device.Entry{
		Kind: Kind,
		New:  func() device.Driver { return New(reg, Options{}) },
	})
}

func initialType(m Mode) device.Type {
	if m == SequenceOfData {
		return device.Temporal
	}
	return device.Resource
}

// Options returns a copy of the options.
func (a *Aggregator) Options() Options {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts.clone()
}

// SetOptions replaces the options. They apply on the next Open.
func (a *Aggregator) SetOptions(opts Options) {
	a.mu.Lock()
	a.opts = opts.clone()
	if len(a.subs) == 0 {
		a.typ = initialType(opts.Mode)
	}
	a.mu.Unlock()
}

// Devices returns the opened sub-devices in file order.
func (a *Aggregator) Devices() []*device.Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*device.Device(nil), a.subs...)
}

// Placement returns the ranges covered by each sub-device on the aggregated
// timeline. Only meaningful in SequenceOfData mode.
func (a *Aggregator) Placement() []timeline.Range {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]timeline.Range(nil), a.placed...)
}

// SamplingTime returns the sampling used to separate files.
func (a *Aggregator) SamplingTime() timeline.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sampling
}

func (a *Aggregator) Kind() string { return Kind }

func (a *Aggregator) Type() device.Type {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.typ
}

func (a *Aggregator) SupportedModes() device.OpenMode { return device.ModeRead }

func (a *Aggregator) Open(path string, mode device.OpenMode) error {
	_ = a.Close()
	if mode != device.ModeRead {
		return fmt.Errorf("%w: directory is read-only", device.ErrConfiguration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	files, err := Files(path, a.opts)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no matching file in %s", path)
	}

	subs := make([]*device.Device, 0, len(files))
	for _, file := range files {
		sub, err := a.openFile(file)
		if err != nil {
			a.logger.Warn().
				Str(log.FieldEvent, "directory.file_skipped").
				Str(log.FieldPath, file).
				Err(err).
				Msg("skipping unreadable file")
			continue
		}
		rel, _ := filepath.Rel(path, file)
		sub.SetName(filepath.ToSlash(rel))
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return fmt.Errorf("none of the %d files in %s could be opened", len(files), path)
	}

	a.root = path
	a.subs = subs
	a.recomputeLocked()
	a.logger.Debug().
		Str(log.FieldEvent, "directory.opened").
		Str(log.FieldPath, path).
		Int("files", len(subs)).
		Str("mode", a.opts.Mode.String()).
		Str(log.FieldWindow, a.window.String()).
		Msg("directory opened")
	return nil
}

func (a *Aggregator) openFile(file string) (*device.Device, error) {
	kinds := a.kindsFor(file)
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: no driver for %s", device.ErrUnknownKind, filepath.Base(file))
	}
	var errs []error
	for _, kind := range kinds {
		if kind == Kind {
			continue
		}
		sub, err := a.registry.Create(kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sub.SetPath(file)
		if err := sub.Open(device.ModeRead); err != nil {
			errs = append(errs, err)
			continue
		}
		return sub, nil
	}
	return nil, errors.Join(errs...)
}

func (a *Aggregator) kindsFor(file string) []string {
	if kind, ok := a.opts.Templates[normSuffix(filepath.Ext(file))]; ok {
		return []string{kind}
	}
	return a.registry.ForPath(file, readHead(file))
}

func readHead(file string) []byte {
	f, err := os.Open(file)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, headBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return buf[:n]
}

func (a *Aggregator) Close() error {
	a.mu.Lock()
	subs := a.subs
	a.subs, a.placed, a.shifts, a.window = nil, nil, nil, nil
	a.sampling = 0
	a.typ = initialType(a.opts.Mode)
	a.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Aggregator) TimeWindow() timeline.RangeList {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.window.Clone()
}

// Recompute rebuilds the aggregated timeline after sub-devices changed.
// The owning device must refresh its window afterwards.
func (a *Aggregator) Recompute() {
	a.mu.Lock()
	a.recomputeLocked()
	a.mu.Unlock()
}

func (a *Aggregator) recomputeLocked() {
	a.sampling = DefaultSampling
	found := false
	for _, sub := range a.subs {
		s := sub.EstimateSamplingTime()
		if s.Valid() && s > 0 && (!found || s < a.sampling) {
			a.sampling, found = s, true
		}
	}

	a.placed, a.shifts, a.window = nil, nil, nil
	if a.opts.Mode == SequenceOfData {
		a.typ = device.Temporal
		for i, sub := range a.subs {
			r := sub.TimeLimits()
			local := r.First
			switch {
			case !r.Valid() && i == 0:
				r = timeline.Point(0)
			case !r.Valid():
				r = timeline.Point(timeline.Add(a.placed[i-1].Second, a.sampling))
			case i > 0 && r.First <= a.placed[i-1].Second:
				start := timeline.Add(a.placed[i-1].Second, a.sampling)
				r = timeline.Range{First: start, Second: timeline.Add(start, r.Duration())}
			}
			shift := timeline.Time(0)
			if local.Valid() {
				shift = timeline.Sub(r.First, local)
			}
			a.placed = append(a.placed, r)
			a.shifts = append(a.shifts, shift)
			a.window = append(a.window, r)
		}
		a.window = a.window.Normalize()
		return
	}

	a.typ = device.Resource
	var lists []timeline.RangeList
	for _, sub := range a.subs {
		if sub.Type() == device.Temporal && sub.Size() != 1 {
			a.typ = device.Temporal
			lists = append(lists, sub.TimeWindow())
		}
	}
	a.window = timeline.Union(lists...)
}

// closestIndex returns the sub-device whose placed range is closest to t.
// In a gap the later range wins ties.
func (a *Aggregator) closestIndex(t timeline.Time) int {
	n := len(a.placed)
	switch {
	case n == 0:
		return -1
	case t <= a.placed[0].First:
		return 0
	case t >= a.placed[n-1].Second:
		return n - 1
	}
	i := sort.Search(n, func(i int) bool { return a.placed[i].Second >= t })
	if a.placed[i].First <= t {
		return i
	}
	if timeline.Sub(t, a.placed[i-1].Second) <= timeline.Sub(a.placed[i].First, t) {
		return i - 1
	}
	return i
}

// Locate maps an aggregated time to the sub-device index and its local time.
// In Independent mode local time and aggregated time coincide and the index
// is -1.
func (a *Aggregator) Locate(t timeline.Time) (index int, local timeline.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.opts.Mode != SequenceOfData {
		return -1, t
	}
	idx := a.closestIndex(t)
	if idx < 0 {
		return -1, timeline.Invalid
	}
	return idx, timeline.Sub(t, a.shifts[idx])
}

func (a *Aggregator) NextTime(t timeline.Time) timeline.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.opts.Mode == SequenceOfData {
		return a.sequenceNext(t)
	}
	best := timeline.Invalid
	for _, sub := range a.readable() {
		if n := sub.NextTime(t); n.Valid() && n > t && (!best.Valid() || n < best) {
			best = n
		}
	}
	if !best.Valid() {
		return a.window.Last()
	}
	return best
}

func (a *Aggregator) PreviousTime(t timeline.Time) timeline.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.opts.Mode == SequenceOfData {
		return a.sequencePrevious(t)
	}
	best := timeline.Invalid
	for _, sub := range a.readable() {
		if p := sub.PreviousTime(t); p.Valid() && p < t && (!best.Valid() || p > best) {
			best = p
		}
	}
	if !best.Valid() {
		return a.window.First()
	}
	return best
}

func (a *Aggregator) ClosestTime(t timeline.Time) timeline.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.opts.Mode == SequenceOfData {
		return a.sequenceClosest(t)
	}
	best, bestDist := t, timeline.MaxTime
	for _, sub := range a.readable() {
		c := sub.ClosestTime(t)
		if !c.Valid() {
			continue
		}
		if d := timeline.Abs(timeline.Sub(c, t)); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func (a *Aggregator) readable() []*device.Device {
	subs := make([]*device.Device, 0, len(a.subs))
	for _, sub := range a.subs {
		if sub.Enabled() && sub.OpenMode()&device.ModeRead != 0 && sub.Type() == device.Temporal {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (a *Aggregator) sequenceNext(t timeline.Time) timeline.Time {
	first, last := a.window.First(), a.window.Last()
	switch {
	case !t.Valid() || len(a.placed) == 0:
		return timeline.Invalid
	case t < first:
		return first
	case t >= last:
		return last
	}
	idx := a.closestIndex(t)
	if t < a.placed[idx].First {
		return a.placed[idx].First
	}
	following := func() timeline.Time {
		if idx+1 < len(a.placed) {
			return a.placed[idx+1].First
		}
		return last
	}
	local := timeline.Sub(t, a.shifts[idx])
	n := a.subs[idx].NextTime(local)
	if !n.Valid() || n <= local {
		return following()
	}
	return timeline.Add(n, a.shifts[idx])
}

func (a *Aggregator) sequencePrevious(t timeline.Time) timeline.Time {
	first, last := a.window.First(), a.window.Last()
	switch {
	case !t.Valid() || len(a.placed) == 0:
		return timeline.Invalid
	case t <= first:
		return first
	case t > last:
		return last
	}
	idx := a.closestIndex(t)
	if t > a.placed[idx].Second {
		return a.placed[idx].Second
	}
	preceding := func() timeline.Time {
		if idx > 0 {
			return a.placed[idx-1].Second
		}
		return first
	}
	local := timeline.Sub(t, a.shifts[idx])
	p := a.subs[idx].PreviousTime(local)
	if !p.Valid() || p >= local {
		return preceding()
	}
	return timeline.Add(p, a.shifts[idx])
}

func (a *Aggregator) sequenceClosest(t timeline.Time) timeline.Time {
	first, last := a.window.First(), a.window.Last()
	switch {
	case !t.Valid() || len(a.placed) == 0:
		return timeline.Invalid
	case t <= first:
		return first
	case t >= last:
		return last
	}
	idx := a.closestIndex(t)
	r := a.placed[idx]
	c := a.subs[idx].ClosestTime(timeline.Sub(t, a.shifts[idx]))
	if !c.Valid() {
		if timeline.Sub(t, r.First) <= timeline.Sub(r.Second, t) {
			return r.First
		}
		return r.Second
	}
	return timeline.Add(c, a.shifts[idx])
}

// ReadAt reads the sub-devices at t. SequenceOfData returns the value of the
// sub-device covering t. Independent returns the values of every sub-device
// that produced one, keyed by relative file name.
func (a *Aggregator) ReadAt(t timeline.Time) (any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.subs) == 0 {
		return nil, device.ErrNotOpen
	}

	if a.opts.Mode == SequenceOfData {
		idx := a.closestIndex(t)
		sub := a.subs[idx]
		sub.ClearError()
		if !sub.Read(timeline.Sub(t, a.shifts[idx]), true) {
			if err := sub.LastError(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%s has no sample at %s", sub.Name(), t)
		}
		s, _ := sub.LastSample()
		return s.Value, nil
	}

	values := make(map[string]any, len(a.subs))
	var errs []error
	for _, sub := range a.subs {
		var ok bool
		sub.ClearError()
		switch sub.Type() {
		case device.Temporal:
			ok = sub.Read(t, true)
		case device.Resource:
			ok = sub.Read(t, false)
		default:
			continue
		}
		if !ok {
			if err := sub.LastError(); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if s, found := sub.LastSample(); found {
			values[sub.Name()] = s.Value
		}
	}
	if len(values) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return values, nil
}
