// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sink defines the downstream processing contract fed by devices and
// the consumers shipped with the engine.
package sink

import (
	"context"

	"github.com/ManuGH/tempus/internal/timeline"
)

// Sample is one time-stamped value emitted by a device.
type Sample struct {
	Time   timeline.Time `json:"time"`
	Value  any           `json:"value"`
	Source string        `json:"source"`
}

// Consumer receives samples. A consumer without downstream consumers is a
// leaf; the playback loop waits on leaves before advancing.
type Consumer interface {
	Push(s Sample)
	// Wait blocks until every sample pushed so far was processed.
	Wait(ctx context.Context) error
	// Reset drops pending samples.
	Reset()
	SetEnabled(enabled bool)
	Enabled() bool
	Downstream() []Consumer
}

// Leafs walks the consumer graph breadth first and returns every reachable
// leaf once, in discovery order.
func Leafs(roots []Consumer) []Consumer {
	seen := make(map[Consumer]struct{})
	var leafs []Consumer
	queue := append([]Consumer(nil), roots...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		next := c.Downstream()
		if len(next) == 0 {
			leafs = append(leafs, c)
			continue
		}
		queue = append(queue, next...)
	}
	return leafs
}
