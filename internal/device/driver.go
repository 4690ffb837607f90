// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "github.com/ManuGH/tempus/internal/timeline"

// Driver is the device-specific part of a Device. Times exchanged with a
// driver are raw (native) times; the Device applies the timestamping filter.
//
// Drivers are called with the owning Device locked and need no locking of
// their own, except for goroutines they start themselves.
type Driver interface {
	Kind() string
	Type() Type
	SupportedModes() OpenMode
	Open(path string, mode OpenMode) error
	Close() error
	// TimeWindow returns the native coverage. Only meaningful while open.
	TimeWindow() timeline.RangeList
	// ReadAt produces the sample at raw time t.
	ReadAt(t timeline.Time) (any, error)
}

// Positioner is implemented by drivers addressing samples by position.
// PosToTime must accept any position in [0, Size()).
type Positioner interface {
	Size() int64
	PosToTime(pos int64) timeline.Time
	TimeToPos(t timeline.Time) int64
}

// Stepper is implemented by drivers with custom time navigation. Input and
// output are raw times.
type Stepper interface {
	NextTime(t timeline.Time) timeline.Time
	PreviousTime(t timeline.Time) timeline.Time
	ClosestTime(t timeline.Time) timeline.Time
}

// Emit delivers a streamed sample.
type Emit func(t timeline.Time, value any)

// Streamer is implemented by Sequential drivers that push samples on their own.
// EnableStreaming is called without the device lock held.
type Streamer interface {
	EnableStreaming(enable bool, emit Emit) error
}

// Recognizer is implemented by drivers that recognise files by content.
type Recognizer interface {
	Recognize(path string, head []byte) bool
}
