// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID     = "run_id"
	FieldRequestID = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldHandle    = "handle"

	// Device / timeline fields
	FieldDevice     = "device"
	FieldKind       = "kind"
	FieldPath       = "path"
	FieldTime       = "time_ns"
	FieldWindow     = "window"
	FieldDeviceType = "device_type"
	FieldWorkers    = "workers"

	// Playback fields
	FieldSpeed      = "speed"
	FieldBackward   = "backward"
	FieldRepeat     = "repeat"
	FieldDurationMS = "duration_ms"
)
