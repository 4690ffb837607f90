// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeviceReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_device_reads_total",
		Help: "Total number of device reads by driver kind and result",
	}, []string{"kind", "result"})

	DeviceOpensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_device_opens_total",
		Help: "Total number of device open attempts by driver kind and result",
	}, []string{"kind", "result"})

	DeviceStreaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tempus_device_streaming",
		Help: "Number of devices currently streaming by driver kind",
	}, []string{"kind"})
)

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// IncDeviceRead records a device read outcome.
func IncDeviceRead(kind string, ok bool) {
	DeviceReadsTotal.WithLabelValues(kind, result(ok)).Inc()
}

// IncDeviceOpen records a device open outcome.
func IncDeviceOpen(kind string, ok bool) {
	DeviceOpensTotal.WithLabelValues(kind, result(ok)).Inc()
}

// SetDeviceStreaming adjusts the streaming gauge of a driver kind.
func SetDeviceStreaming(kind string, enabled bool) {
	if enabled {
		DeviceStreaming.WithLabelValues(kind).Inc()
		return
	}
	DeviceStreaming.WithLabelValues(kind).Dec()
}
