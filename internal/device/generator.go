// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/ManuGH/tempus/internal/timeline"
)

// KindGenerator is the registry kind of Generator.
const KindGenerator = "generator"

// ValueFunc produces the sample at raw time t and position pos.
type ValueFunc func(t timeline.Time, pos int64) (any, error)

// Generator is a Temporal driver whose timeline is given explicitly: a
// uniform grid, ranges stepped at a fixed interval, or a list of timestamps.
// It is also the timeline backbone of file drivers.
type Generator struct {
	value      ValueFunc
	ranges     timeline.RangeList
	sizes      []int64
	step       timeline.Time
	timestamps []timeline.Time
	size       int64
	open       bool
}

// NewGenerator returns an empty generator. A nil value function yields the
// sample time itself.
func NewGenerator(value ValueFunc) *Generator {
	if value == nil {
		value = func(t timeline.Time, _ int64) (any, error) { return int64(t), nil }
	}
	return &Generator{value: value}
}

func (g *Generator) reset() {
	g.ranges = nil
	g.sizes = nil
	g.step = 0
	g.timestamps = nil
	g.size = 0
}

// SetUniform defines count samples starting at start, sampling apart.
func (g *Generator) SetUniform(start timeline.Time, count int64, sampling timeline.Time) error {
	if count < 0 || (count > 1 && sampling <= 0) {
		return fmt.Errorf("%w: uniform timeline needs count >= 0 and sampling > 0", ErrConfiguration)
	}
	g.reset()
	if count == 0 {
		return nil
	}
	g.ranges = timeline.RangeList{{First: start, Second: start + timeline.Time(count-1)*sampling}}
	g.sizes = []int64{count}
	g.size = count
	g.step = sampling
	return nil
}

// SetSpan spreads count samples evenly over r.
func (g *Generator) SetSpan(r timeline.Range, count int64) error {
	if count <= 0 || !r.Valid() {
		return fmt.Errorf("%w: span needs a valid range and count > 0", ErrConfiguration)
	}
	if count == 1 {
		g.SetTimestamps([]timeline.Time{r.First}, false)
		return nil
	}
	ts := make([]timeline.Time, count)
	sampling := float64(r.Second-r.First) / float64(count-1)
	for i := range ts {
		ts[i] = r.First + timeline.Time(sampling*float64(i))
	}
	g.SetTimestamps(ts, false)
	return nil
}

// SetRanges defines samples every step inside each range.
func (g *Generator) SetRanges(ranges timeline.RangeList, step timeline.Time) error {
	if step <= 0 {
		return fmt.Errorf("%w: step must be > 0", ErrConfiguration)
	}
	g.reset()
	g.ranges = ranges.Normalize()
	g.step = step
	for i, r := range g.ranges {
		n := int64(r.Duration()/step) + 1
		// the last bound must be a sample
		g.ranges[i].Second = r.First + timeline.Time(n-1)*step
		g.sizes = append(g.sizes, n)
		g.size += n
	}
	return nil
}

// SetTimestamps defines the samples explicitly. With multiRange, gaps larger
// than four times the minimal sampling split the timeline into ranges.
func (g *Generator) SetTimestamps(ts []timeline.Time, multiRange bool) {
	g.reset()
	g.timestamps = slices.Clone(ts)
	slices.Sort(g.timestamps)
	if len(g.timestamps) == 0 {
		return
	}
	g.size = int64(len(g.timestamps))
	g.sizes = []int64{g.size}
	g.ranges = timeline.RangeList{{First: g.timestamps[0], Second: g.timestamps[len(g.timestamps)-1]}}
	if len(g.timestamps) > 1 {
		g.step = g.timestamps[1] - g.timestamps[0]
	}
	if len(g.timestamps) > 1 && multiRange {
		sampling := timeline.Time(math.MaxInt64)
		for i := 1; i < len(g.timestamps); i++ {
			if d := g.timestamps[i] - g.timestamps[i-1]; d != 0 {
				sampling = min(sampling, d)
			}
		}
		g.split(func(gap timeline.Time) bool { return gap > 4*sampling })
		g.step = sampling
	}
}

// SetTimestampsWithSampling is SetTimestamps with a known sampling: gaps
// larger than 1.5 times sampling start a new range.
func (g *Generator) SetTimestampsWithSampling(ts []timeline.Time, sampling timeline.Time) error {
	if sampling <= 0 {
		return fmt.Errorf("%w: sampling must be > 0", ErrConfiguration)
	}
	g.SetTimestamps(ts, false)
	if len(g.timestamps) > 1 {
		g.split(func(gap timeline.Time) bool { return float64(gap) > 1.5*float64(sampling) })
		g.step = sampling
	}
	return nil
}

func (g *Generator) split(isGap func(timeline.Time) bool) {
	var ranges timeline.RangeList
	sizes := []int64{1}
	cur := timeline.Point(g.timestamps[0])
	for _, t := range g.timestamps[1:] {
		if isGap(t - cur.Second) {
			ranges = append(ranges, cur)
			cur = timeline.Point(t)
			sizes = append(sizes, 1)
			continue
		}
		cur.Second = t
		sizes[len(sizes)-1]++
	}
	g.ranges = append(ranges, cur)
	g.sizes = sizes
}

// SamplingTime returns the step between samples.
func (g *Generator) SamplingTime() timeline.Time { return g.step }

// Timestamps returns the explicit timestamps, if any.
func (g *Generator) Timestamps() []timeline.Time { return slices.Clone(g.timestamps) }

func (g *Generator) Kind() string             { return KindGenerator }
func (g *Generator) Type() Type               { return Temporal }
func (g *Generator) SupportedModes() OpenMode { return ModeRead }

func (g *Generator) Open(_ string, _ OpenMode) error {
	if g.size == 0 {
		return fmt.Errorf("%w: empty timeline", ErrConfiguration)
	}
	g.open = true
	return nil
}

func (g *Generator) Close() error {
	g.open = false
	return nil
}

func (g *Generator) TimeWindow() timeline.RangeList { return g.ranges.Clone() }

func (g *Generator) ReadAt(t timeline.Time) (any, error) {
	if !g.open {
		return nil, ErrNotOpen
	}
	return g.value(t, g.TimeToPos(t))
}

func (g *Generator) Size() int64 { return g.size }

func (g *Generator) PosToTime(pos int64) timeline.Time {
	if n := int64(len(g.timestamps)); n > 0 {
		return g.timestamps[max(0, min(pos, n-1))]
	}
	var cum int64
	for i, r := range g.ranges {
		if pos < cum+g.sizes[i] {
			return r.First + timeline.Time(max(0, pos-cum))*g.step
		}
		cum += g.sizes[i]
	}
	return timeline.Invalid
}

func (g *Generator) TimeToPos(t timeline.Time) int64 {
	if n := len(g.timestamps); n > 0 {
		idx := sort.Search(n, func(i int) bool { return g.timestamps[i] >= t })
		switch {
		case idx == 0:
			return 0
		case idx == n:
			return int64(n - 1)
		}
		if t-g.timestamps[idx-1] <= g.timestamps[idx]-t {
			return int64(idx - 1)
		}
		return int64(idx)
	}
	if len(g.ranges) == 0 || g.step <= 0 {
		return InvalidPosition
	}
	var cum int64
	for i, r := range g.ranges {
		if t < r.First {
			if i == 0 {
				return 0
			}
			// gap: pick the nearer neighbour, ties go to the earlier range
			if t-g.ranges[i-1].Second <= r.First-t {
				return cum - 1
			}
			return cum
		}
		if t <= r.Second {
			offset, rem := int64((t-r.First)/g.step), t-r.First-(t-r.First)/g.step*g.step
			if 2*rem > g.step {
				offset++
			}
			return cum + min(offset, g.sizes[i]-1)
		}
		cum += g.sizes[i]
	}
	return g.size - 1
}
