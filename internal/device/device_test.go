// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tempus/internal/sink"
	"github.com/ManuGH/tempus/internal/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDriver struct {
	typ     Type
	window  timeline.RangeList
	openErr error
	readErr error
	opens   int
	closes  int
	reads   []timeline.Time
}

func (f *fakeDriver) Kind() string             { return "fake" }
func (f *fakeDriver) Type() Type               { return f.typ }
func (f *fakeDriver) SupportedModes() OpenMode { return ModeRead }
func (f *fakeDriver) Open(string, OpenMode) error {
	f.opens++
	return f.openErr
}
func (f *fakeDriver) Close() error {
	f.closes++
	return nil
}
func (f *fakeDriver) TimeWindow() timeline.RangeList { return f.window }
func (f *fakeDriver) ReadAt(t timeline.Time) (any, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.reads = append(f.reads, t)
	return int64(t), nil
}

func uniformDevice(t *testing.T, start timeline.Time, count int64, step timeline.Time) (*Device, *sink.Collector) {
	t.Helper()
	g := NewGenerator(nil)
	require.NoError(t, g.SetUniform(start, count, step))
	d := New(g)
	require.NoError(t, d.Open(ModeRead))
	c := sink.NewCollector(0)
	d.Connect(c)
	return d, c
}

func TestGeneratorTimeline(t *testing.T) {
	d, _ := uniformDevice(t, 0, 11, 10)

	assert.Equal(t, timeline.RangeList{{First: 0, Second: 100}}, d.TimeWindow())
	assert.Equal(t, int64(11), d.Size())
	assert.Equal(t, timeline.Time(30), d.PosToTime(3))
	assert.Equal(t, timeline.Time(100), d.PosToTime(50), "positions are clamped")
	assert.Equal(t, timeline.Time(0), d.PosToTime(-4))
	assert.Equal(t, int64(4), d.TimeToPos(37))
	assert.Equal(t, int64(10), d.TimeToPos(500))

	assert.Equal(t, timeline.Time(40), d.NextTime(31))
	assert.Equal(t, timeline.Time(30), d.PreviousTime(31))
	assert.Equal(t, timeline.Time(30), d.ClosestTime(31))
	assert.Equal(t, timeline.Time(100), d.NextTime(100), "next at the end stays on the last sample")
	assert.Equal(t, timeline.Time(0), d.PreviousTime(0))
	assert.Equal(t, timeline.Time(10), d.EstimateSamplingTime())
}

func TestClosestTimeIsMonotonic(t *testing.T) {
	g := NewGenerator(nil)
	g.SetTimestamps([]timeline.Time{0, 3, 4, 10, 25, 26, 40}, true)
	d := New(g)
	require.NoError(t, d.Open(ModeRead))

	prev := d.ClosestTime(-10)
	for x := timeline.Time(-10); x <= 50; x++ {
		c := d.ClosestTime(x)
		require.GreaterOrEqual(t, c, prev, "closest(%d)", x)
		prev = c
	}
}

func TestClosestTimeIsNearestAndTiesGoEarlier(t *testing.T) {
	ts := []timeline.Time{0, 10, 30, 31, 60}
	g := NewGenerator(nil)
	g.SetTimestamps(ts, false)
	d := New(g)
	require.NoError(t, d.Open(ModeRead))

	for x := timeline.Time(-5); x <= 65; x++ {
		c := d.ClosestTime(x)
		for _, s := range ts {
			require.LessOrEqual(t, timeline.Abs(c-x), timeline.Abs(s-x), "closest(%d)=%d but %d is nearer", x, c, s)
		}
	}
	assert.Equal(t, timeline.Time(0), d.ClosestTime(5))
	assert.Equal(t, timeline.Time(10), d.ClosestTime(20))
	assert.Equal(t, timeline.Time(31), d.ClosestTime(45))

	u, c := uniformDevice(t, 0, 3, 10)
	assert.Equal(t, timeline.Time(0), u.ClosestTime(5))
	require.True(t, u.Read(5, true))
	s, _ := c.Last()
	assert.Equal(t, int64(0), s.Value)
}

func TestNextAndPreviousNeverSkipASample(t *testing.T) {
	d, _ := uniformDevice(t, 0, 6, 20)

	assert.Equal(t, timeline.Time(80), d.NextTime(75))
	assert.Equal(t, timeline.Time(60), d.PreviousTime(75))
	assert.Equal(t, timeline.Time(80), d.NextTime(65))
	assert.Equal(t, timeline.Time(60), d.PreviousTime(65))
	assert.Equal(t, timeline.Time(100), d.NextTime(80))
	assert.Equal(t, timeline.Time(40), d.PreviousTime(60))
}

func TestTemporalReadSemantics(t *testing.T) {
	d, c := uniformDevice(t, 0, 11, 10)

	require.True(t, d.Read(33, false))
	s, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, timeline.Time(33), s.Time)
	assert.Equal(t, int64(30), s.Value, "the closest sample is read")
	assert.Equal(t, timeline.Time(33), d.Time())

	require.True(t, d.Read(33, false), "repeated time is a successful no-op")
	assert.Len(t, c.Samples(), 1)

	require.True(t, d.Read(33, true))
	assert.Len(t, c.Samples(), 2)

	assert.False(t, d.Read(timeline.Invalid, true))

	d.SetEnabled(false)
	assert.False(t, d.Read(40, true))
	d.SetEnabled(true)

	require.NoError(t, d.Close())
	assert.False(t, d.Read(40, true))
	assert.False(t, d.Time().Valid())
}

func TestReadBeforeFirstSnapsInside(t *testing.T) {
	d, c := uniformDevice(t, 100, 3, 10)
	require.True(t, d.Read(0, true))
	s, _ := c.Last()
	assert.Equal(t, int64(100), s.Value)
}

func TestFilterShiftsTimeline(t *testing.T) {
	d, c := uniformDevice(t, 0, 11, 10)

	var f timeline.Filter
	f.SetTransforms([]timeline.Transform{{
		From: timeline.Range{First: timeline.MinTime, Second: timeline.MaxTime},
		To:   timeline.Range{First: 1000, Second: 1100},
	}})
	d.SetFilter(f)

	assert.Equal(t, timeline.RangeList{{First: 1000, Second: 1100}}, d.TimeWindow())
	assert.Equal(t, timeline.RangeList{{First: 0, Second: 100}}, d.NativeTimeWindow())
	assert.Equal(t, timeline.Time(1040), d.NextTime(1030))

	require.True(t, d.Read(1050, true))
	s, _ := c.Last()
	assert.Equal(t, timeline.Time(1050), s.Time)
	assert.Equal(t, int64(50), s.Value)

	d.ResetFilter()
	assert.Equal(t, timeline.RangeList{{First: 0, Second: 100}}, d.TimeWindow())
}

func TestOpenFailureRollsBack(t *testing.T) {
	drv := &fakeDriver{typ: Temporal, openErr: errors.New("boom")}
	d := New(drv)

	err := d.Open(ModeRead)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, d.IsOpen())
	assert.Equal(t, 1, drv.closes)
	assert.ErrorIs(t, d.LastError(), ErrOpen)

	err = d.Open(ModeWrite)
	assert.ErrorIs(t, err, ErrOpen, "unsupported mode")
	assert.Equal(t, 1, drv.opens)
}

func TestOpenSameModeIsNoop(t *testing.T) {
	drv := &fakeDriver{typ: Temporal, window: timeline.RangeList{{First: 0, Second: 10}}}
	d := New(drv)
	require.NoError(t, d.Open(ModeRead))
	require.NoError(t, d.Open(ModeRead))
	assert.Equal(t, 1, drv.opens)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, drv.closes)
}

func TestReadFailureSetsErrorSlot(t *testing.T) {
	drv := &fakeDriver{typ: Temporal, window: timeline.RangeList{{First: 0, Second: 10}}, readErr: errors.New("disk gone")}
	d := New(drv)
	require.NoError(t, d.Open(ModeRead))

	assert.False(t, d.Read(5, true))
	assert.ErrorIs(t, d.LastError(), ErrRead)
}

func TestWindowFallbackStepping(t *testing.T) {
	drv := &fakeDriver{typ: Temporal, window: timeline.RangeList{{First: 0, Second: 10}, {First: 20, Second: 30}}}
	d := New(drv)
	require.NoError(t, d.Open(ModeRead))

	assert.Equal(t, int64(InvalidPosition), d.Size())
	assert.Equal(t, timeline.Time(10), d.NextTime(5))
	assert.Equal(t, timeline.Time(20), d.NextTime(10))
	assert.Equal(t, timeline.Time(10), d.PreviousTime(20))
	assert.Equal(t, timeline.Time(10), d.ClosestTime(14))
	assert.Equal(t, timeline.Time(30), d.NextTime(30))
}

func TestResourceAlwaysReads(t *testing.T) {
	drv := &fakeDriver{typ: Resource}
	d := New(drv)
	require.NoError(t, d.Open(ModeRead))

	assert.Equal(t, int64(1), d.Size())
	require.True(t, d.Read(timeline.Invalid, false))
	require.True(t, d.Read(timeline.Invalid, false))
	assert.Len(t, drv.reads, 2)
	require.True(t, d.Reload())
	assert.Len(t, drv.reads, 3)
}

func TestSequentialReadsOnlyOnNewTime(t *testing.T) {
	drv := &fakeDriver{typ: Sequential}
	d := New(drv)
	require.NoError(t, d.Open(ModeRead))
	c := sink.NewCollector(0)
	d.Connect(c)

	assert.Equal(t, int64(InvalidPosition), d.Size())
	require.True(t, d.Read(5, false))
	assert.False(t, d.Read(5, true))
	require.True(t, d.Read(6, false))
	assert.Len(t, drv.reads, 2)

	require.True(t, d.Reload(), "reload re-pushes the last sample")
	assert.Len(t, c.Samples(), 3)
	assert.Len(t, drv.reads, 2)
}

func TestObserversSeeChanges(t *testing.T) {
	d, _ := uniformDevice(t, 0, 3, 1)
	var seen []Change
	cancel := d.Observe(func(_ *Device, c Change) {
		if c != ChangeTime {
			seen = append(seen, c)
		}
	})
	d.SetEnabled(false)
	d.SetEnabled(false)
	d.SetFilter(timeline.Filter{})
	cancel()
	d.SetEnabled(true)

	assert.Equal(t, []Change{ChangeEnabled, ChangeFilter, ChangeTimeWindow}, seen)
}

func TestDisconnect(t *testing.T) {
	d, c := uniformDevice(t, 0, 3, 1)
	d.Disconnect(c)
	require.True(t, d.Read(1, true))
	assert.Empty(t, c.Samples())
	assert.Empty(t, d.Consumers())
}
