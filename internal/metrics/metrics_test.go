// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ManuGH/tempus/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.IncDeviceRead("csv", true)
	metrics.ObservePoolRead("serial", 1, 0)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "tempus_device_reads_total"))
	require.True(t, strings.Contains(string(body), "tempus_pool_read_duration_seconds"))
}

func TestIncEventDropReasonDefaults(t *testing.T) {
	counter := metrics.EventsDroppedTotal.WithLabelValues("unknown", "unknown")
	before := readCounter(t, counter)

	metrics.IncEventDropReason("", "")

	require.Equal(t, before+1, readCounter(t, counter))
}

func TestSetPlaybackRunning(t *testing.T) {
	metrics.SetPlaybackRunning(true)
	m := &dto.Metric{}
	require.NoError(t, metrics.PlaybackRunning.Write(m))
	require.Equal(t, 1.0, m.GetGauge().GetValue())

	metrics.SetPlaybackRunning(false)
	m = &dto.Metric{}
	require.NoError(t, metrics.PlaybackRunning.Write(m))
	require.Equal(t, 0.0, m.GetGauge().GetValue())
}

func readCounter(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}
