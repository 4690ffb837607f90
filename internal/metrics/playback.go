// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlaybackFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_playback_frames_total",
		Help: "Total number of playback iterations by direction and result",
	}, []string{"direction", "result"})

	PlaybackRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempus_playback_running",
		Help: "1 while the playback loop is running",
	})

	PlaybackStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_playback_stops_total",
		Help: "Total number of playback stops by reason",
	}, []string{"reason"})

	SinkDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_sink_drops_total",
		Help: "Total number of samples overwritten in consumer queues",
	}, []string{"sink"})
)

func direction(backward bool) string {
	if backward {
		return "backward"
	}
	return "forward"
}

// IncPlaybackFrame records one playback iteration.
func IncPlaybackFrame(backward, ok bool) {
	PlaybackFramesTotal.WithLabelValues(direction(backward), result(ok)).Inc()
}

// SetPlaybackRunning toggles the running gauge.
func SetPlaybackRunning(running bool) {
	if running {
		PlaybackRunning.Set(1)
		return
	}
	PlaybackRunning.Set(0)
}

// IncPlaybackStop records why a playback run ended.
func IncPlaybackStop(reason string) {
	PlaybackStopsTotal.WithLabelValues(reason).Inc()
}

// IncSinkDrop records an overwritten sample in a consumer queue.
func IncSinkDrop(sink string) {
	if sink == "" {
		sink = "unknown"
	}
	SinkDropsTotal.WithLabelValues(sink).Inc()
}
