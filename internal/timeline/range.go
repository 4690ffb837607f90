// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import "strconv"

// Range is an inclusive time interval. A range with First == Second holds a
// single sample.
type Range struct {
	First  Time `json:"first" yaml:"first"`
	Second Time `json:"second" yaml:"second"`
}

// InvalidRange has both bounds set to Invalid.
var InvalidRange = Range{First: Invalid, Second: Invalid}

// NewRange builds a range from two bounds without reordering them.
func NewRange(first, second Time) Range {
	return Range{First: first, Second: second}
}

// Point builds a degenerate range holding t.
func Point(t Time) Range { return Range{First: t, Second: t} }

// Valid reports whether both bounds are set and ordered.
func (r Range) Valid() bool {
	return r.First.Valid() && r.Second.Valid() && r.First <= r.Second
}

// Degenerate reports whether r holds a single instant.
func (r Range) Degenerate() bool { return r.First == r.Second }

// Ordered returns r with its bounds ascending.
func (r Range) Ordered() Range {
	if r.First > r.Second {
		return Range{First: r.Second, Second: r.First}
	}
	return r
}

// Duration returns Second-First, saturated.
func (r Range) Duration() Time { return Sub(r.Second, r.First) }

// Contains reports whether t lies inside r (bounds inclusive, either order).
func (r Range) Contains(t Time) bool {
	o := r.Ordered()
	return t >= o.First && t <= o.Second
}

// Distance returns the distance between t and r together with the point of r
// closest to t. Inside the range the distance is zero and the closest point is t.
func (r Range) Distance(t Time) (dist, closest Time) {
	o := r.Ordered()
	switch {
	case t > o.Second:
		return Sub(t, o.Second), o.Second
	case t < o.First:
		return Sub(o.First, t), o.First
	}
	return 0, t
}

// Intersect returns the overlap of r and o.
func (r Range) Intersect(o Range) (Range, bool) {
	if !r.Valid() || !o.Valid() || r.Second < o.First || r.First > o.Second {
		return InvalidRange, false
	}
	return Range{First: max(r.First, o.First), Second: min(r.Second, o.Second)}, true
}

// Span returns the smallest range covering r and o.
func (r Range) Span(o Range) Range {
	if !r.Valid() || !o.Valid() {
		return InvalidRange
	}
	return Range{First: min(r.First, o.First), Second: max(r.Second, o.Second)}
}

// Shift translates both bounds by d.
func (r Range) Shift(d Time) Range {
	return Range{First: Add(r.First, d), Second: Add(r.Second, d)}
}

// replaceOpenBounds substitutes MinTime/MaxTime bounds with lo/hi.
func (r Range) replaceOpenBounds(lo, hi Time) Range {
	res := r
	switch res.First {
	case MinTime:
		res.First = lo
	case MaxTime:
		res.First = hi
	}
	switch res.Second {
	case MinTime:
		res.Second = lo
	case MaxTime:
		res.Second = hi
	}
	return res
}

func (r Range) less(o Range) bool {
	if r.First != o.First {
		return r.First < o.First
	}
	return r.Second < o.Second
}

// String formats r as "a-b"; open bounds are left empty.
func (r Range) String() string {
	if r.First == Invalid || r.Second == Invalid {
		return ""
	}
	s := ""
	if r.First != MinTime {
		s += strconv.FormatInt(int64(r.First), 10)
	}
	s += "-"
	if r.Second != MaxTime {
		s += strconv.FormatInt(int64(r.Second), 10)
	}
	return s
}
