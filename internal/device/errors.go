// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "errors"

var (
	// ErrOpen is returned when a device cannot be opened.
	ErrOpen = errors.New("device open failed")
	// ErrRead is returned when a driver fails to produce a sample.
	ErrRead = errors.New("device read failed")
	// ErrConfiguration is returned for invalid driver parameters.
	ErrConfiguration = errors.New("invalid device configuration")
	// ErrStreamingUnsupported is returned when streaming is requested from a
	// device that cannot stream.
	ErrStreamingUnsupported = errors.New("streaming not supported")
	// ErrUnknownKind is returned by the registry for unregistered kinds.
	ErrUnknownKind = errors.New("unknown device kind")
	// ErrNotOpen is returned by operations that need an open device.
	ErrNotOpen = errors.New("device not open")
)
