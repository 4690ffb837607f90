// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// RangeList is a sequence of ranges. Lists returned by Normalize and Union are
// ascending, free of invalid ranges, and contain no two ranges that overlap or
// share an endpoint.
type RangeList []Range

// ErrInvalidRange is returned when a range string cannot be parsed.
var ErrInvalidRange = errors.New("invalid range")

// Normalize orders every range ascending, drops ranges with an Invalid bound,
// sorts the list and merges ranges that overlap or touch.
func (l RangeList) Normalize() RangeList {
	if len(l) == 0 {
		return nil
	}
	sorted := make(RangeList, 0, len(l))
	for _, r := range l {
		if r.First == Invalid || r.Second == Invalid {
			continue
		}
		sorted = append(sorted, r.Ordered())
	}
	if len(sorted) == 0 {
		return nil
	}
	slices.SortFunc(sorted, func(a, b Range) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		}
		return 0
	})

	res := RangeList{sorted[0]}
	for _, r := range sorted[1:] {
		last := &res[len(res)-1]
		if r.First <= last.Second {
			last.Second = max(last.Second, r.Second)
			continue
		}
		res = append(res, r)
	}
	return res
}

// Union merges any number of lists into one normalized list.
func Union(lists ...RangeList) RangeList {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	all := make(RangeList, 0, n)
	for _, l := range lists {
		all = append(all, l...)
	}
	return all.Normalize()
}

// Empty reports whether the list holds no range.
func (l RangeList) Empty() bool { return len(l) == 0 }

// Clone returns an independent copy of l.
func (l RangeList) Clone() RangeList {
	if l == nil {
		return nil
	}
	return slices.Clone(l)
}

// Equal reports whether both lists hold the same ranges in the same order.
func (l RangeList) Equal(o RangeList) bool { return slices.Equal(l, o) }

// First returns the first bound of the first range, or Invalid.
func (l RangeList) First() Time {
	if len(l) == 0 {
		return Invalid
	}
	return l[0].First
}

// Last returns the second bound of the last range, or Invalid.
func (l RangeList) Last() Time {
	if len(l) == 0 {
		return Invalid
	}
	return l[len(l)-1].Second
}

// Contains reports whether t lies in any range.
func (l RangeList) Contains(t Time) bool {
	for _, r := range l {
		if r.Contains(t) {
			return true
		}
	}
	return false
}

// Distance returns the distance from t to the closest range, the closest
// point and the index of that range. The first range wins ties. An empty list
// yields (MaxTime, Invalid, -1).
func (l RangeList) Distance(t Time) (dist, closest Time, index int) {
	dist, closest, index = MaxTime, Invalid, -1
	for i, r := range l {
		d, c := r.Distance(t)
		if d == 0 {
			return 0, t, i
		}
		if d < dist {
			dist, closest, index = d, c, i
		}
	}
	return dist, closest, index
}

// Bounds returns the range spanning every bound of the list.
func (l RangeList) Bounds() Range {
	res := InvalidRange
	for _, r := range l {
		if res.First == Invalid {
			res.First = min(r.First, r.Second)
		} else {
			res.First = min(res.First, r.First, r.Second)
		}
		if res.Second == Invalid {
			res.Second = max(r.First, r.Second)
		} else {
			res.Second = max(res.Second, r.First, r.Second)
		}
	}
	return res
}

// Clamp restricts an ascending list to [first, last]. Ranges entirely
// outside are dropped and boundary ranges are cut.
func (l RangeList) Clamp(first, last Time) RangeList {
	if last < first {
		return nil
	}
	var res RangeList
	for _, r := range l {
		switch {
		case first <= r.First:
			if last >= r.Second {
				res = append(res, r)
				continue
			}
			if last >= r.First {
				res = append(res, Range{First: r.First, Second: last})
			}
			return res
		case first <= r.Second:
			if last >= r.Second {
				res = append(res, Range{First: first, Second: r.Second})
				continue
			}
			res = append(res, Range{First: first, Second: last})
			return res
		}
	}
	return res
}

// Duration returns the summed duration of every range.
func (l RangeList) Duration() Time {
	var total Time
	for _, r := range l {
		total = Add(total, r.Duration())
	}
	return total
}

// FromTimestamps groups ascending timestamps into ranges, starting a new
// range whenever two consecutive timestamps are more than gap apart.
func FromTimestamps(ts []Time, gap Time) RangeList {
	if len(ts) == 0 {
		return nil
	}
	var res RangeList
	cur := Point(ts[0])
	for _, t := range ts[1:] {
		if Sub(t, cur.Second) > gap {
			res = append(res, cur)
			cur = Point(t)
			continue
		}
		cur.Second = t
	}
	return append(res, cur)
}

// ParseRange parses "a-b", "a", "a-", "-b" or "-". Empty bounds are open and
// "!-" denotes the reversed open range. Bounds are non-negative integers.
func ParseRange(s string) (Range, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)

	switch s {
	case "-":
		return Range{First: MinTime, Second: MaxTime}, nil
	case "!-":
		return Range{First: MaxTime, Second: MinTime}, nil
	}

	parts := strings.Split(s, "-")
	parse := func(p string, open Time) (Time, error) {
		if p == "" {
			return open, nil
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Invalid, fmt.Errorf("%w: %q", ErrInvalidRange, s)
		}
		return Time(v), nil
	}

	switch len(parts) {
	case 1:
		v, err := parse(parts[0], Invalid)
		if err != nil || v == Invalid {
			return InvalidRange, fmt.Errorf("%w: %q", ErrInvalidRange, s)
		}
		return Point(v), nil
	case 2:
		a, err := parse(parts[0], MinTime)
		if err != nil {
			return InvalidRange, err
		}
		b, err := parse(parts[1], MaxTime)
		if err != nil {
			return InvalidRange, err
		}
		return Range{First: a, Second: b}, nil
	}
	return InvalidRange, fmt.Errorf("%w: %q", ErrInvalidRange, s)
}

// ParseRangeList parses comma separated ranges; empty items are skipped.
func ParseRangeList(s string) (RangeList, error) {
	var res RangeList
	for _, item := range strings.Split(s, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		r, err := ParseRange(item)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// String formats the list as "a-b,c-d", skipping invalid ranges.
func (l RangeList) String() string {
	parts := make([]string, 0, len(l))
	for _, r := range l {
		if s := r.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ",")
}
