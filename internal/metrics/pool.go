// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolReadDuration tracks the wall time of one synchronized pool read.
	PoolReadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tempus_pool_read_duration_seconds",
		Help:    "Duration of synchronized pool reads by dispatch mode",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"mode"})

	// PoolReadWorkers is the worker count used by the last parallel read.
	PoolReadWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempus_pool_read_workers",
		Help: "Number of workers used by the last pool read",
	})

	PoolChildren = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempus_pool_children",
		Help: "Number of devices owned by the pool",
	})

	PoolRecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempus_pool_recompute_total",
		Help: "Total number of lazy pool cache recomputations by cache",
	}, []string{"cache"})
)

// ObservePoolRead records a pool read duration for the given dispatch mode
// ("serial" or "parallel") and worker count.
func ObservePoolRead(mode string, workers int, d time.Duration) {
	PoolReadDuration.WithLabelValues(mode).Observe(d.Seconds())
	PoolReadWorkers.Set(float64(workers))
}

// IncPoolRecompute records a cache recomputation.
func IncPoolRecompute(cache string) {
	PoolRecomputeTotal.WithLabelValues(cache).Inc()
}
