// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the Prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_events_published_total",
		Help: "Total number of pool events published by kind",
	}, []string{"kind"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_events_dropped_total",
		Help: "Total number of pool events dropped by kind and reason (backpressure)",
	}, []string{"kind", "reason"})
)

// IncEventPublished records a published pool event.
func IncEventPublished(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	EventsPublishedTotal.WithLabelValues(kind).Inc()
}

// IncEventDropReason records a dropped pool event with a concrete reason.
func IncEventDropReason(kind, reason string) {
	if kind == "" {
		kind = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(kind, reason).Inc()
}
