// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import "slices"

// Transform maps the input interval From onto the output interval To.
// MinTime/MaxTime bounds stand for the first/last time of the filter input.
type Transform struct {
	From Range `json:"from" yaml:"from"`
	To   Range `json:"to" yaml:"to"`
}

// linear is out = offset + t*scale restricted to domain.
type linear struct {
	domain Range
	offset float64
	scale  float64
}

func (l linear) apply(t Time) Time {
	return Round(l.offset + float64(t)*l.scale)
}

// Filter remaps a device timeline piecewise-linearly. The zero value is the
// identity filter.
type Filter struct {
	input      RangeList
	transforms []Transform
	forward    []linear
	inverse    []linear
	output     RangeList
}

// NewFilter returns a filter holding the given transforms.
func NewFilter(trs ...Transform) Filter {
	var f Filter
	f.SetTransforms(trs)
	return f
}

// Empty reports whether the filter has no transform (identity).
func (f Filter) Empty() bool { return len(f.transforms) == 0 }

// Input returns the native time window the filter was bound to.
func (f Filter) Input() RangeList { return f.input.Clone() }

// Output returns the normalized union of every output interval.
func (f Filter) Output() RangeList { return f.output.Clone() }

// Transforms returns the transforms ordered by input interval.
func (f Filter) Transforms() []Transform { return slices.Clone(f.transforms) }

// SetInput binds the filter to a native window and recomputes transforms
// whose bounds are open.
func (f *Filter) SetInput(l RangeList) {
	f.input = l.Clone()
	if len(f.transforms) > 0 {
		f.SetTransforms(f.transforms)
	}
}

// SetTransforms replaces the transform set. Later transforms with an equal
// input interval replace earlier ones.
func (f *Filter) SetTransforms(trs []Transform) {
	lo, hi := MinTime, MaxTime
	if len(f.input) > 0 {
		lo, hi = f.input[0].First, f.input[len(f.input)-1].Second
	}

	f.transforms = dedupTransforms(trs, func(t Transform) Range { return t.From })
	f.forward, f.inverse = nil, nil
	var out RangeList

	for _, tr := range f.transforms {
		key := tr.From.replaceOpenBounds(lo, hi)
		value := tr.To.replaceOpenBounds(lo, hi)
		out = append(out, value)
		f.forward = append(f.forward, newLinear(key, value))
		f.inverse = append(f.inverse, newLinear(value, key))
	}
	f.forward = sortLinear(f.forward)
	f.inverse = sortLinear(f.inverse)
	f.output = out.Normalize()
}

// Affine builds one transform per input range mapping t to t*scale+offset.
func (f *Filter) Affine(scale float64, offset Time) {
	trs := make([]Transform, 0, len(f.input))
	for _, r := range f.input {
		trs = append(trs, Transform{
			From: r,
			To: Range{
				First:  Round(float64(r.First)*scale + float64(offset)),
				Second: Round(float64(r.Second)*scale + float64(offset)),
			},
		})
	}
	f.SetTransforms(trs)
}

// Reset clears input, transforms and output.
func (f *Filter) Reset() { *f = Filter{} }

// Clone returns a deep copy of f.
func (f Filter) Clone() Filter {
	return Filter{
		input:      f.input.Clone(),
		transforms: slices.Clone(f.transforms),
		forward:    slices.Clone(f.forward),
		inverse:    slices.Clone(f.inverse),
		output:     f.output.Clone(),
	}
}

// Transform maps a native time to the output timeline. inside is false when t
// lies outside every input interval; the closest interval bound is mapped then.
func (f Filter) Transform(t Time) (Time, bool) {
	return apply(f.forward, t)
}

// Inverse maps an output time back to the native timeline.
func (f Filter) Inverse(t Time) (Time, bool) {
	return apply(f.inverse, t)
}

func apply(helpers []linear, t Time) (Time, bool) {
	if len(helpers) == 0 {
		return t, true
	}
	if !t.Valid() {
		return Invalid, false
	}
	closest := helpers[0]
	closestTime := MaxTime
	bestDist := MaxTime
	for _, h := range helpers {
		if h.domain.Contains(t) {
			return h.apply(t), true
		}
		if d, c := h.domain.Distance(t); d < bestDist {
			closest, closestTime, bestDist = h, c, d
		}
	}
	return closest.apply(closestTime), false
}

func newLinear(key, value Range) linear {
	l := linear{domain: key}
	if key.First == key.Second {
		if value.First == value.Second {
			l.scale = 1
			l.offset = float64(value.First) - float64(key.First)
		} else {
			l.offset = float64(value.First)
		}
		return l
	}
	l.scale = (float64(value.Second) - float64(value.First)) / (float64(key.Second) - float64(key.First))
	l.offset = float64(value.First) - float64(key.First)*l.scale
	return l
}

func sortLinear(ls []linear) []linear {
	slices.SortStableFunc(ls, func(a, b linear) int {
		switch {
		case a.domain.less(b.domain):
			return -1
		case b.domain.less(a.domain):
			return 1
		}
		return 0
	})
	// equal domains: keep the last one
	res := ls[:0]
	for i, l := range ls {
		if i+1 < len(ls) && ls[i+1].domain == l.domain {
			continue
		}
		res = append(res, l)
	}
	return res
}

func dedupTransforms(trs []Transform, key func(Transform) Range) []Transform {
	sorted := slices.Clone(trs)
	slices.SortStableFunc(sorted, func(a, b Transform) int {
		ka, kb := key(a), key(b)
		switch {
		case ka.less(kb):
			return -1
		case kb.less(ka):
			return 1
		}
		return 0
	})
	res := sorted[:0]
	for i, tr := range sorted {
		if i+1 < len(sorted) && key(sorted[i+1]) == key(tr) {
			continue
		}
		res = append(res, tr)
	}
	return res
}
