// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/pool"
	"github.com/ManuGH/tempus/internal/sink"
	"github.com/ManuGH/tempus/internal/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPool(t *testing.T, count int64, step timeline.Time, value device.ValueFunc) (*pool.Pool, *sink.Collector) {
	t.Helper()
	g := device.NewGenerator(value)
	require.NoError(t, g.SetUniform(0, count, step))
	d := device.New(g)
	require.NoError(t, d.Open(device.ModeRead))
	c := sink.NewCollector(0)
	d.Connect(c)

	p := pool.New()
	p.SetReadMaxFPS(0)
	p.Add(d)
	t.Cleanup(p.Clear)
	return p, c
}

func values(c *sink.Collector) []int64 {
	var out []int64
	for _, s := range c.Samples() {
		out = append(out, s.Value.(int64))
	}
	return out
}

func waitStopped(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool { return !e.Running() }, 5*time.Second, time.Millisecond)
}

func TestPlayForwardToEnd(t *testing.T) {
	p, c := newPool(t, 5, 1, nil)
	e := New(p)

	var mu sync.Mutex
	var phases []Phase
	e.AddTickCallback(func(ph Phase) bool {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != ph {
			phases = append(phases, ph)
		}
		return true
	})

	require.NoError(t, e.PlayForward(context.Background()))
	waitStopped(t, e)

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, values(c))
	assert.Equal(t, timeline.Time(4), p.Time())
	assert.NoError(t, e.LastError())
	assert.NotEmpty(t, e.RunID())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseStartPlaying, PhasePlaying, PhaseStopPlaying}, phases)
}

func TestPlayBackward(t *testing.T) {
	p, c := newPool(t, 5, 1, nil)
	e := New(p)
	require.True(t, e.Last(context.Background()))

	require.NoError(t, e.PlayBackward(context.Background()))
	waitStopped(t, e)

	assert.Equal(t, []int64{0, 4, 3, 2, 1, 0}, values(c))
	assert.True(t, p.Settings().Backward)
}

func TestRepeatWraps(t *testing.T) {
	p, c := newPool(t, 4, 1, nil)
	p.SetRepeat(true)
	e := New(p)

	var frames int
	e.AddTickCallback(func(ph Phase) bool {
		if ph == PhasePlaying {
			frames++
		}
		return frames < 8
	})
	require.NoError(t, e.Play(context.Background()))
	waitStopped(t, e)

	got := values(c)
	require.GreaterOrEqual(t, len(got), 9)
	assert.Equal(t, []int64{0, 1, 2, 3, 0, 1, 2, 3, 0}, got[:9])
}

func TestPacedPlaybackReadsEverySample(t *testing.T) {
	step := timeline.FromDuration(time.Millisecond)
	p, c := newPool(t, 20, step, nil)
	p.SetUsePlaySpeed(true)
	p.SetPlaySpeed(4)
	p.SetMissFramesEnabled(false)
	e := New(p)

	started := time.Now()
	require.NoError(t, e.Play(context.Background()))
	waitStopped(t, e)
	assert.GreaterOrEqual(t, time.Since(started), 19*time.Millisecond/4)

	got := slices.Compact(values(c))
	want := make([]int64, 20)
	for i := range want {
		want[i] = int64(i) * int64(step)
	}
	assert.Equal(t, want, got)
	assert.NoError(t, e.LastError())
}

func TestReadFailureStops(t *testing.T) {
	boom := errors.New("boom")
	p, _ := newPool(t, 10, 1, func(t timeline.Time, _ int64) (any, error) {
		if t >= 3 {
			return nil, boom
		}
		return int64(t), nil
	})
	e := New(p)

	var stopped bool
	e.AddTickCallback(func(ph Phase) bool {
		if ph == PhaseStopPlaying {
			stopped = true
		}
		return true
	})
	require.NoError(t, e.Play(context.Background()))
	waitStopped(t, e)

	assert.True(t, stopped)
	assert.True(t, errors.Is(e.LastError(), ErrReadFailed))
	assert.Equal(t, timeline.Time(3), p.Time(), "the failed time stays current")
}

func TestStopBlocksUntilExit(t *testing.T) {
	p, _ := newPool(t, 1_000_000, 1, nil)
	p.SetReadMaxFPS(200)
	e := New(p)

	require.NoError(t, e.Play(context.Background()))
	require.NoError(t, e.Play(context.Background()), "play while running is a no-op")
	require.Eventually(t, func() bool { return p.Time() > 2 }, 5*time.Second, time.Millisecond)

	e.Stop()
	assert.False(t, e.Running())
	assert.Equal(t, StateStopped, e.State())
	at := p.Time()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, at, p.Time(), "no read after Stop returned")
	e.Stop()
}

func TestPlayNeedsTemporalDevice(t *testing.T) {
	e := New(pool.New())
	err := e.Play(context.Background())
	assert.True(t, errors.Is(err, ErrNothingToPlay))
	assert.False(t, e.Running())
}

func TestStepping(t *testing.T) {
	p, _ := newPool(t, 5, 10, nil)
	e := New(p)
	ctx := context.Background()

	require.True(t, e.Last(ctx))
	assert.Equal(t, timeline.Time(40), p.Time())
	require.True(t, e.Previous(ctx))
	assert.Equal(t, timeline.Time(30), p.Time())
	require.True(t, e.First(ctx))
	assert.Equal(t, timeline.Time(0), p.Time())
	require.True(t, e.Next(ctx))
	assert.Equal(t, timeline.Time(10), p.Time())
	assert.False(t, e.Previous(ctx) && e.Previous(ctx))
}

func TestRunMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	p, _ := newPool(t, 3, 1, nil)
	e := New(p)
	require.NoError(t, e.Play(context.Background()))
	waitStopped(t, e)

	var rm metricdata.ResourceMetrics
	require.Eventually(t, func() bool {
		if err := reader.Collect(context.Background(), &rm); err != nil {
			return false
		}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name == "tempus_playback_runs_total" {
					sum, ok := m.Data.(metricdata.Sum[int64])
					return ok && len(sum.DataPoints) == 1 && sum.DataPoints[0].Value == 1
				}
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}
