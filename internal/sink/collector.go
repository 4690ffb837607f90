// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sink

import (
	"context"
	"sync"
)

// Collector is a synchronous leaf that records the samples it receives.
type Collector struct {
	mu       sync.Mutex
	samples  []Sample
	limit    int
	disabled bool
}

// NewCollector returns a collector keeping at most limit samples (0 = all).
func NewCollector(limit int) *Collector {
	return &Collector{limit: limit}
}

func (c *Collector) Push(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return
	}
	c.samples = append(c.samples, s)
	if c.limit > 0 && len(c.samples) > c.limit {
		c.samples = append(c.samples[:0], c.samples[len(c.samples)-c.limit:]...)
	}
}

func (c *Collector) Wait(ctx context.Context) error { return ctx.Err() }

func (c *Collector) Reset() {
	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()
}

func (c *Collector) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.disabled = !enabled
	c.mu.Unlock()
}

func (c *Collector) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disabled
}

func (c *Collector) Downstream() []Consumer { return nil }

// Samples returns a copy of the recorded samples.
func (c *Collector) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sample(nil), c.samples...)
}

// Last returns the most recent sample.
func (c *Collector) Last() (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return Sample{}, false
	}
	return c.samples[len(c.samples)-1], true
}
