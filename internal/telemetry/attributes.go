// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Pool attributes
	PoolTimeKey     = "pool.time_ns"
	PoolChildrenKey = "pool.children"
	PoolWorkersKey  = "pool.workers"
	PoolModeKey     = "pool.read_mode"
	PoolResultKey   = "pool.read_ok"

	// Device attributes
	DeviceNameKey = "device.name"
	DeviceKindKey = "device.kind"
	DeviceTypeKey = "device.type"

	// Playback attributes
	PlaybackRunIDKey    = "playback.run_id"
	PlaybackSpeedKey    = "playback.speed"
	PlaybackBackwardKey = "playback.backward"
	PlaybackRepeatKey   = "playback.repeat"
	PlaybackFramesKey   = "playback.frames"
	PlaybackReasonKey   = "playback.stop_reason"

	// HTTP attributes
	RequestIDKey = "http.request_id"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// PoolReadAttributes creates attributes describing one synchronized pool read.
func PoolReadAttributes(t int64, children, workers int, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(PoolTimeKey, t),
		attribute.Int(PoolChildrenKey, children),
		attribute.Int(PoolWorkersKey, workers),
		attribute.String(PoolModeKey, mode),
	}
}

// DeviceAttributes creates device span attributes. Empty values are skipped.
func DeviceAttributes(name, kind, deviceType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if name != "" {
		attrs = append(attrs, attribute.String(DeviceNameKey, name))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(DeviceKindKey, kind))
	}
	if deviceType != "" {
		attrs = append(attrs, attribute.String(DeviceTypeKey, deviceType))
	}
	return attrs
}

// PlaybackAttributes creates attributes describing a playback run.
func PlaybackAttributes(runID string, speed float64, backward, repeat bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PlaybackRunIDKey, runID),
		attribute.Float64(PlaybackSpeedKey, speed),
		attribute.Bool(PlaybackBackwardKey, backward),
		attribute.Bool(PlaybackRepeatKey, repeat),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// RequestIDAttribute tags a server span with the request correlation id.
func RequestIDAttribute(id string) attribute.KeyValue {
	return attribute.String(RequestIDKey, id)
}
