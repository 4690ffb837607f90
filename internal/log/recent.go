// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"sync"
)

const (
	maxRecentEntries = 200
	maxLineBytes     = 16 * 1024
	maxPartialBytes  = 64 * 1024
)

// Entry is a decoded log line kept for the status API.
type Entry struct {
	Level   string         `json:"level"`
	Event   string         `json:"event,omitempty"`
	Message string         `json:"message,omitempty"`
	Fields  map[string]any `json:"fields"`
}

// BufferMetrics counts lines the recent buffer refused.
type BufferMetrics struct {
	DroppedPartialOverflow uint64
	DroppedTooLargeLines   uint64
	DroppedIrrelevant      uint64
	DroppedMalformed       uint64
}

// recentWriter frames zerolog output into lines and keeps the last
// maxRecentEntries entries that carry an event field at info level or above.
type recentWriter struct {
	mu      sync.Mutex
	partial bytes.Buffer
	entries []Entry
	next    int
	full    bool
	metrics BufferMetrics
}

var recent = &recentWriter{}

func (w *recentWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		buf := w.partial.Bytes()
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, buf[:idx])
		w.partial.Next(idx + 1)
		w.consumeLocked(line)
	}
	if w.partial.Len() > maxPartialBytes {
		w.partial.Reset()
		w.metrics.DroppedPartialOverflow++
	}
	return len(p), nil
}

func (w *recentWriter) consumeLocked(line []byte) {
	if len(line) == 0 {
		return
	}
	if len(line) > maxLineBytes {
		w.metrics.DroppedTooLargeLines++
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		w.metrics.DroppedMalformed++
		return
	}
	level, _ := fields["level"].(string)
	event, _ := fields[FieldEvent].(string)
	if event == "" || level == "debug" || level == "trace" {
		w.metrics.DroppedIrrelevant++
		return
	}
	msg, _ := fields["message"].(string)
	e := Entry{Level: level, Event: event, Message: msg, Fields: fields}

	if w.entries == nil {
		w.entries = make([]Entry, maxRecentEntries)
	}
	w.entries[w.next] = e
	w.next = (w.next + 1) % maxRecentEntries
	if w.next == 0 {
		w.full = true
	}
}

func (w *recentWriter) snapshot() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entries == nil {
		return nil
	}
	if !w.full {
		out := make([]Entry, w.next)
		copy(out, w.entries[:w.next])
		return out
	}
	out := make([]Entry, 0, maxRecentEntries)
	out = append(out, w.entries[w.next:]...)
	out = append(out, w.entries[:w.next]...)
	return out
}

func (w *recentWriter) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	w.next = 0
	w.full = false
	w.partial.Reset()
	w.metrics = BufferMetrics{}
}

// GetRecentLogs returns the buffered entries, oldest first.
func GetRecentLogs() []Entry {
	return recent.snapshot()
}

// ClearRecentLogs empties the recent-log buffer and its counters.
func ClearRecentLogs() {
	recent.reset()
}

// GetBufferMetrics returns the drop counters of the recent-log buffer.
func GetBufferMetrics() BufferMetrics {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	return recent.metrics
}
