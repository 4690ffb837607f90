// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestPoolReadAttributes(t *testing.T) {
	attrs := PoolReadAttributes(75, 2, 2, "parallel")
	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}
	verifyInt64Attribute(t, attrs, PoolTimeKey, 75)
	verifyInt64Attribute(t, attrs, PoolChildrenKey, 2)
	verifyInt64Attribute(t, attrs, PoolWorkersKey, 2)
	verifyAttribute(t, attrs, PoolModeKey, "parallel")
}

func TestDeviceAttributes(t *testing.T) {
	tests := []struct {
		name    string
		dev     string
		kind    string
		typ     string
		wantLen int
	}{
		{name: "all fields", dev: "csv_1", kind: "csv", typ: "temporal", wantLen: 3},
		{name: "only name", dev: "csv_1", wantLen: 1},
		{name: "empty fields", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := DeviceAttributes(tt.dev, tt.kind, tt.typ)
			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			if tt.dev != "" {
				verifyAttribute(t, attrs, DeviceNameKey, tt.dev)
			}
			if tt.kind != "" {
				verifyAttribute(t, attrs, DeviceKindKey, tt.kind)
			}
			if tt.typ != "" {
				verifyAttribute(t, attrs, DeviceTypeKey, tt.typ)
			}
		})
	}
}

func TestPlaybackAttributes(t *testing.T) {
	attrs := PlaybackAttributes("run-1", 2, true, false)
	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}
	verifyAttribute(t, attrs, PlaybackRunIDKey, "run-1")
	verifyBoolAttribute(t, attrs, PlaybackBackwardKey, true)
	verifyBoolAttribute(t, attrs, PlaybackRepeatKey, false)
	for _, attr := range attrs {
		if string(attr.Key) == PlaybackSpeedKey && attr.Value.AsFloat64() != 2 {
			t.Errorf("Expected speed 2, got %v", attr.Value.AsFloat64())
		}
	}
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("test error"), "read_failed")
	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}
	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "read_failed")
}

func TestAttributeKeys_Consistency(t *testing.T) {
	keys := []string{
		PoolTimeKey,
		PoolChildrenKey,
		DeviceNameKey,
		PlaybackRunIDKey,
		PlaybackReasonKey,
		ErrorTypeKey,
	}
	for _, key := range keys {
		if key == "" {
			t.Error("Found empty attribute key")
		}
		if strings.ContainsAny(key, " ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			t.Errorf("Attribute key %q should be lower-case without spaces", key)
		}
	}
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
