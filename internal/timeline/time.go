// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timeline implements time-range arithmetic for time-indexed devices:
// signed nanosecond timestamps, ordered range lists and the piecewise-linear
// timestamping filter that remaps a device timeline.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Time is a signed 64-bit timestamp in nanoseconds.
type Time int64

const (
	// Invalid marks the absence of a time. It is never ordered against a
	// real time; callers check Valid first.
	Invalid Time = -math.MaxInt64
	// MinTime is the lowest representable time, used as an open lower bound.
	MinTime Time = Invalid + 1
	// MaxTime is the highest representable time, used as an open upper bound.
	MaxTime Time = math.MaxInt64
)

// ErrInvalidTime is returned when a time string cannot be parsed.
var ErrInvalidTime = errors.New("invalid time")

// Valid reports whether t is a real time.
func (t Time) Valid() bool { return t != Invalid && t >= MinTime }

// Duration converts t to a time.Duration.
func (t Time) Duration() time.Duration { return time.Duration(t) }

func (t Time) String() string {
	switch t {
	case Invalid:
		return "invalid"
	case MinTime:
		return "-inf"
	case MaxTime:
		return "+inf"
	}
	return strconv.FormatInt(int64(t), 10)
}

// FromDuration converts a time.Duration to a Time.
func FromDuration(d time.Duration) Time { return Time(d) }

// ParseTime accepts a nanosecond integer ("1500"), a Go duration string
// ("1.5s", "-20ms") or one of the names printed by String. The empty string
// parses to Invalid.
func ParseTime(s string) (Time, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "invalid":
		return Invalid, nil
	case "-inf":
		return MinTime, nil
	case "+inf", "inf":
		return MaxTime, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Time(v), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Invalid, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return Time(d), nil
}

// Abs returns |t|, saturating at MaxTime.
func Abs(t Time) Time {
	if t < 0 {
		if t <= Invalid {
			return MaxTime
		}
		return -t
	}
	return t
}

// Sub returns a-b saturated to [MinTime, MaxTime].
func Sub(a, b Time) Time {
	d := a - b
	// overflow when operands have different signs and the result sign differs from a
	if (a >= 0) != (b >= 0) && (d >= 0) != (a >= 0) {
		if a >= 0 {
			return MaxTime
		}
		return MinTime
	}
	if d < MinTime {
		return MinTime
	}
	return d
}

// Add returns a+b saturated to [MinTime, MaxTime].
func Add(a, b Time) Time {
	d := a + b
	if (a >= 0) == (b >= 0) && (d >= 0) != (a >= 0) {
		if a >= 0 {
			return MaxTime
		}
		return MinTime
	}
	if d < MinTime {
		return MinTime
	}
	return d
}

// Round converts a float to the nearest Time, saturating on overflow.
func Round(v float64) Time {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		return Invalid
	case r >= float64(MaxTime):
		return MaxTime
	case r <= float64(MinTime):
		return MinTime
	}
	return Time(r)
}

// MarshalYAML writes real times as integers and sentinels by name.
func (t Time) MarshalYAML() (any, error) {
	switch t {
	case Invalid, MinTime, MaxTime:
		return t.String(), nil
	}
	return int64(t), nil
}

// UnmarshalYAML accepts everything ParseTime does.
func (t *Time) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrInvalidTime, node.Line)
	}
	v, err := ParseTime(node.Value)
	if err != nil {
		return err
	}
	*t = v
	return nil
}
