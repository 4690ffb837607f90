// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device implements the time-indexed data source contract shared by
// every driver: lifecycle, timestamping filter, time navigation and reads.
package device

import "github.com/ManuGH/tempus/internal/timeline"

// Type classifies how a device exposes time.
type Type int

const (
	// Resource holds a single sample independent of time.
	Resource Type = iota
	// Sequential produces samples as they arrive (live source).
	Sequential
	// Temporal exposes a seekable timeline.
	Temporal
)

func (t Type) String() string {
	switch t {
	case Resource:
		return "resource"
	case Sequential:
		return "sequential"
	case Temporal:
		return "temporal"
	}
	return "unknown"
}

// OpenMode is a bit set of access modes.
type OpenMode int

const (
	ModeNone  OpenMode = 0
	ModeRead  OpenMode = 1 << 0
	ModeWrite OpenMode = 1 << 1
)

func (m OpenMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeRead | ModeWrite:
		return "read_write"
	}
	return "unknown"
}

// InvalidPosition marks the absence of a sample position.
const InvalidPosition = int64(timeline.Invalid)

// Change identifies what a device notification is about.
type Change int

const (
	ChangeOpened Change = iota
	ChangeClosed
	ChangeTimeWindow
	ChangeFilter
	ChangeEnabled
	ChangeStreaming
	ChangeTime
)

func (c Change) String() string {
	switch c {
	case ChangeOpened:
		return "opened"
	case ChangeClosed:
		return "closed"
	case ChangeTimeWindow:
		return "time_window"
	case ChangeFilter:
		return "filter"
	case ChangeEnabled:
		return "enabled"
	case ChangeStreaming:
		return "streaming"
	case ChangeTime:
		return "time"
	}
	return "unknown"
}
