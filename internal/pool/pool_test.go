// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tempus/internal/archive"
	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/sink"
	"github.com/ManuGH/tempus/internal/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func uniform(t *testing.T, start timeline.Time, count int64, step timeline.Time) (*device.Device, *sink.Collector) {
	t.Helper()
	g := device.NewGenerator(nil)
	require.NoError(t, g.SetUniform(start, count, step))
	d := device.New(g)
	require.NoError(t, d.Open(device.ModeRead))
	c := sink.NewCollector(0)
	d.Connect(c)
	return d, c
}

// drain returns the events already queued on s.
func drain(s *Subscription) []Event {
	var out []Event
	for {
		select {
		case e := <-s.C():
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	p := New()
	defer p.Clear()

	a, ca := uniform(t, 0, 6, 20)  // 0..100
	b, cb := uniform(t, 50, 5, 25) // 50..150
	p.Add(a)
	p.Add(b)

	assert.Equal(t, device.Temporal, p.DeviceType())
	if diff := cmp.Diff(timeline.RangeList{{First: 0, Second: 150}}, p.TimeWindow()); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}

	require.True(t, p.Seek(context.Background(), 75))
	assert.Equal(t, timeline.Time(75), p.Time())

	sa, ok := ca.Last()
	require.True(t, ok)
	assert.Equal(t, timeline.Time(75), sa.Time)
	assert.Equal(t, int64(80), sa.Value)
	sb, ok := cb.Last()
	require.True(t, ok)
	assert.Equal(t, int64(75), sb.Value)

	assert.Equal(t, timeline.Time(150), p.ClosestTime(200))
	assert.Equal(t, timeline.Time(0), p.ClosestTime(-20))
	assert.Equal(t, timeline.Time(80), p.NextTime(75))
	assert.Equal(t, timeline.Time(60), p.PreviousTime(75))
	assert.Equal(t, timeline.Invalid, p.NextTime(150))
	assert.Equal(t, timeline.Invalid, p.PreviousTime(0))
}

func TestConcurrentSeeksStayConsistent(t *testing.T) {
	p := New()
	defer p.Clear()
	a, ca := uniform(t, 0, 6, 20)
	b, cb := uniform(t, 0, 6, 20)
	p.Add(a)
	p.Add(b)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	p.AddReadCallback(func(at timeline.Time) {
		if at == 10 {
			close(entered)
			<-release
		}
	})

	done := make(chan bool, 2)
	go func() { done <- p.Seek(ctx, 10) }()
	<-entered
	go func() { done <- p.Seek(ctx, 20) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.True(t, <-done)
	require.True(t, <-done)

	sa, _ := ca.Last()
	sb, _ := cb.Last()
	assert.Equal(t, timeline.Time(20), p.Time())
	assert.Equal(t, p.Time(), sa.Time)
	assert.Equal(t, p.Time(), sb.Time)
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	defer sub.Close()

	before := dropCount.Load()
	for i := range SubscriptionBuffer + 5 {
		b.Publish(Event{Kind: EventTimeChanged, Time: timeline.Time(i)})
	}
	assert.Equal(t, uint64(5), dropCount.Load()-before)

	events := drain(sub)
	require.Len(t, events, SubscriptionBuffer)
	assert.Equal(t, timeline.Time(0), events[0].Time, "the oldest events are kept")
}

func TestUniqueNames(t *testing.T) {
	p := New()
	defer p.Clear()

	a, _ := uniform(t, 0, 2, 1)
	b, _ := uniform(t, 0, 2, 1)
	c, _ := uniform(t, 0, 2, 1)
	c.SetName("custom")
	p.Add(a)
	hb := p.Add(b)
	p.Add(c)

	assert.Equal(t, "generator", a.Name())
	assert.Equal(t, "generator_1", b.Name())
	assert.Equal(t, "custom", c.Name())

	h, ok := p.Lookup("generator_1")
	require.True(t, ok)
	assert.Equal(t, hb, h)
}

func TestRemoveAndHandles(t *testing.T) {
	p := New()
	a, _ := uniform(t, 0, 11, 10)
	b, _ := uniform(t, 200, 11, 10)
	ha := p.Add(a)
	hb := p.Add(b)

	assert.Equal(t, []Handle{ha, hb}, p.Handles())
	assert.Equal(t, timeline.RangeList{{First: 0, Second: 100}, {First: 200, Second: 300}}, p.TimeWindow())
	assert.Equal(t, device.InvalidPosition, p.Size(), "two contributors have no common size")

	require.NoError(t, p.Remove(ha))
	assert.False(t, a.IsOpen(), "removed children are closed")
	assert.Equal(t, timeline.RangeList{{First: 200, Second: 300}}, p.TimeWindow())
	assert.Equal(t, int64(11), p.Size())
	assert.Equal(t, timeline.Time(230), p.PosToTime(3))
	assert.Equal(t, int64(3), p.TimeToPos(231))

	err := p.Remove(ha)
	assert.True(t, errors.Is(err, ErrUnknownHandle))
	_, err = p.Device(ha)
	assert.True(t, errors.Is(err, ErrUnknownHandle))

	p.Clear()
	assert.Empty(t, p.Handles())
	assert.False(t, b.IsOpen())
	assert.Equal(t, device.Resource, p.DeviceType())
	assert.Empty(t, p.TimeWindow())
}

func TestEventsOnlyOnChange(t *testing.T) {
	p := New()
	defer p.Clear()
	sub := p.Subscribe()
	defer sub.Close()

	a, _ := uniform(t, 0, 11, 10)
	h := p.Add(a)
	events := drain(sub)
	assert.Contains(t, kinds(events), EventChildAdded)
	assert.Contains(t, kinds(events), EventDeviceTypeChanged)
	assert.Contains(t, kinds(events), EventTimeWindowChanged)

	p.TimeWindow()
	p.DeviceType()
	assert.Empty(t, drain(sub), "queries without changes publish nothing")

	a.SetFilter(timeline.NewFilter()) // identity filter keeps the window
	p.TimeWindow()
	assert.NotContains(t, kinds(drain(sub)), EventTimeWindowChanged)

	a.SetEnabled(false)
	assert.Equal(t, device.Resource, p.DeviceType())
	events = drain(sub)
	assert.Equal(t, []EventKind{EventDeviceTypeChanged, EventTimeWindowChanged}, kinds(events))
	assert.Equal(t, device.Resource, events[0].DeviceType)

	p.SetPlaySpeed(2)
	p.SetPlaySpeed(2)
	assert.Equal(t, []EventKind{EventSettingsChanged}, kinds(drain(sub)))

	require.NoError(t, p.Remove(h))
	assert.Contains(t, kinds(drain(sub)), EventChildRemoved)
}

func TestReadSemantics(t *testing.T) {
	p := New()
	defer p.Clear()
	ctx := context.Background()

	assert.False(t, p.Read(ctx, 10, true), "empty pool reads nothing")

	a, c := uniform(t, 0, 11, 10)
	p.Add(a)
	n := len(c.Samples())

	assert.False(t, p.Read(ctx, timeline.Invalid, true))
	require.True(t, p.Read(ctx, 40, false))
	require.True(t, p.Read(ctx, 40, false), "repeated time is a no-op")
	assert.Len(t, c.Samples(), n+1)
	require.True(t, p.Read(ctx, 40, true))
	assert.Len(t, c.Samples(), n+2)

	var seen []timeline.Time
	id := p.AddReadCallback(func(t timeline.Time) { seen = append(seen, t) })
	require.True(t, p.Read(ctx, 50, false))
	p.RemoveReadCallback(id)
	require.True(t, p.Read(ctx, 60, false))
	assert.Equal(t, []timeline.Time{50}, seen)

	require.True(t, p.SeekPos(ctx, 3))
	assert.Equal(t, timeline.Time(30), p.Time())
}

func TestAddSynchronisesChild(t *testing.T) {
	p := New()
	defer p.Clear()
	ctx := context.Background()

	a, _ := uniform(t, 0, 11, 10)
	p.Add(a)
	require.True(t, p.Seek(ctx, 40))

	b, cb := uniform(t, 0, 11, 10)
	p.Add(b)
	s, ok := cb.Last()
	require.True(t, ok, "a new child is read at the pool time")
	assert.Equal(t, int64(40), s.Value)

	c, cc := uniform(t, 500, 3, 10)
	p.Add(c)
	s, ok = cc.Last()
	require.True(t, ok)
	assert.Equal(t, int64(500), s.Value)
	assert.Equal(t, timeline.Time(500), p.Time(), "the pool moves to a later child")
}

func TestParallelMatchesSerial(t *testing.T) {
	build := func(threads int) (*Pool, []*sink.Collector) {
		p := New()
		p.SetMaxReadThreadCount(threads)
		var cols []*sink.Collector
		for i := range 8 {
			d, c := uniform(t, timeline.Time(i*7), 50, timeline.Time(3+i))
			p.Add(d)
			cols = append(cols, c)
		}
		return p, cols
	}
	serial, sc := build(1)
	defer serial.Clear()
	parallel, pc := build(4)
	defer parallel.Clear()

	ctx := context.Background()
	for _, at := range []timeline.Time{0, 17, 55, 101, 250, 400} {
		assert.Equal(t, serial.Read(ctx, at, true), parallel.Read(ctx, at, true), "read(%d)", at)
	}
	for i := range sc {
		assert.Equal(t, sc[i].Samples(), pc[i].Samples(), "child %d", i)
	}
}

func TestReadWorkers(t *testing.T) {
	assert.Equal(t, 1, readWorkers(1, 10))
	assert.Equal(t, 1, readWorkers(8, 1))
	assert.Equal(t, 1, readWorkers(0, 0))
	assert.LessOrEqual(t, readWorkers(0, 1000), 1000)
}

func TestReadDataHonoursCancellation(t *testing.T) {
	p := New()
	defer p.Clear()
	a, c := uniform(t, 0, 11, 10)
	p.Add(a)
	n := len(c.Samples())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.ReadData(ctx, 50))
	assert.Len(t, c.Samples(), n)
}

func TestTimeLimits(t *testing.T) {
	p := New()
	defer p.Clear()
	a, _ := uniform(t, 0, 11, 10)
	p.Add(a)

	p.SetStopEndTime(20)
	p.SetStopBeginTime(80)
	s := p.Settings()
	assert.Equal(t, timeline.Time(20), s.StopBeginTime, "inverted limits are swapped")
	assert.Equal(t, timeline.Time(80), s.StopEndTime)
	assert.Equal(t, timeline.RangeList{{First: 0, Second: 100}}, p.TimeWindow(), "limits are off by default")

	p.SetUseTimeLimits(true)
	assert.Equal(t, timeline.RangeList{{First: 20, Second: 80}}, p.TimeWindow())
	assert.Equal(t, timeline.RangeList{{First: 0, Second: 100}}, p.TimeWindowNoLimits())
	assert.Equal(t, timeline.Time(80), p.ClosestTime(95))
	assert.Equal(t, timeline.Time(100), p.ClosestTimeNoLimits(97))
}

func TestNonTemporalPool(t *testing.T) {
	p := New()
	defer p.Clear()

	d := device.New(device.NewStream(time.Second, func(time.Time) any { return "live" }))
	require.NoError(t, d.Open(device.ModeRead))
	c := sink.NewCollector(0)
	d.Connect(c)
	p.Add(d)

	assert.Equal(t, device.Sequential, p.DeviceType())
	require.True(t, p.Read(context.Background(), 0, false))
	s, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "live", s.Value)
}

func TestStreamingRollback(t *testing.T) {
	p := New()
	defer p.Clear()
	sub := p.Subscribe()
	defer sub.Close()

	live := device.New(device.NewStream(5*time.Millisecond, nil))
	require.NoError(t, live.Open(device.ModeRead))
	closed := device.New(device.NewStream(5*time.Millisecond, nil))
	p.Add(live)
	p.Add(closed)
	drain(sub)

	assert.False(t, p.SetStreamingEnabled(true))
	assert.False(t, live.StreamingEnabled(), "already enabled streams are rolled back")
	assert.False(t, p.StreamingEnabled())
	assert.Empty(t, drain(sub))

	require.NoError(t, closed.Open(device.ModeRead))
	require.True(t, p.SetStreamingEnabled(true))
	assert.True(t, live.StreamingEnabled())
	assert.True(t, closed.StreamingEnabled())
	assert.Equal(t, []EventKind{EventStreamingChanged}, kinds(drain(sub)))

	require.True(t, p.SetStreamingEnabled(false))
	assert.False(t, p.StreamingEnabled())
}

func TestOpenClose(t *testing.T) {
	p := New()
	defer p.Clear()

	g := device.NewGenerator(nil)
	require.NoError(t, g.SetUniform(0, 5, 1))
	d := device.New(g)
	p.Add(d)
	assert.Equal(t, device.Temporal, p.DeviceType(), "closed read-capable children count for the type")
	assert.Empty(t, p.TimeWindow(), "closed children do not contribute")

	assert.ErrorIs(t, p.Open(device.ModeRead|device.ModeWrite), ErrInvalidMode)
	assert.ErrorIs(t, p.Open(device.ModeNone), ErrInvalidMode)
	require.NoError(t, p.Open(device.ModeRead))
	assert.True(t, p.IsOpen())
	assert.Equal(t, timeline.RangeList{{First: 0, Second: 4}}, p.TimeWindow())

	require.NoError(t, p.Close())
	assert.False(t, p.IsOpen())
	assert.Empty(t, p.TimeWindow())
}

func TestReload(t *testing.T) {
	p := New()
	defer p.Clear()
	a, c := uniform(t, 0, 11, 10)
	p.Add(a)
	require.True(t, p.Seek(context.Background(), 30))
	n := len(c.Samples())

	require.True(t, p.Reload(context.Background()))
	assert.Len(t, c.Samples(), n+1)
	s, _ := c.Last()
	assert.Equal(t, int64(30), s.Value)
}

func TestLeafs(t *testing.T) {
	p := New()
	defer p.Clear()
	a, ca := uniform(t, 0, 3, 1)
	b, cb := uniform(t, 0, 3, 1)
	b.Connect(ca)
	p.Add(a)
	p.Add(b)

	leafs := p.Leafs()
	assert.ElementsMatch(t, []sink.Consumer{ca, cb}, leafs)
}

func TestSaveRestore(t *testing.T) {
	reg := device.DefaultRegistry()
	src := New()
	defer src.Clear()

	dir := t.TempDir()
	d, err := reg.Create(device.KindFile)
	require.NoError(t, err)
	d.SetPath(dir + "/missing.txt")
	d.SetEnabled(false)
	src.Add(d)

	a, _ := uniform(t, 0, 11, 10)
	a.SetFilter(timeline.NewFilter(timeline.Transform{
		From: timeline.Range{First: 0, Second: 100},
		To:   timeline.Range{First: 1000, Second: 1100},
	}))
	src.Add(a)
	src.SetRepeat(true)
	require.True(t, src.Seek(context.Background(), 1050))

	doc := archive.New()
	require.NoError(t, src.Save(doc.AsWriter()))
	assert.Equal(t, []string{"settings", "children", "time"}, doc.Names())

	var records []ChildRecord
	require.NoError(t, doc.Get("children", &records))
	require.Len(t, records, 2)
	assert.Equal(t, ChildRecord{Name: "file", Kind: device.KindFile, Path: dir + "/missing.txt"}, records[0])
	assert.True(t, records[1].Open)

	// A fresh pool recreates children through the registry. A generator has
	// no timeline of its own and cannot reopen.
	dst := New()
	defer dst.Clear()
	err = dst.Restore(doc.AsReader(), reg)
	assert.True(t, dst.Settings().Repeat)
	require.Error(t, err, "a generator without timeline cannot reopen")
	h, ok := dst.Lookup("file")
	require.True(t, ok)
	restored, err := dst.Device(h)
	require.NoError(t, err)
	assert.False(t, restored.Enabled())
	assert.Equal(t, dir+"/missing.txt", restored.Path())

	again := New()
	defer again.Clear()
	f, err := reg.Create(device.KindFile)
	require.NoError(t, err)
	again.Add(f)
	b, cb := uniform(t, 0, 11, 10)
	again.Add(b)
	require.NoError(t, again.Restore(doc.AsReader(), nil), "children matched by name need no registry")
	assert.False(t, f.Enabled())
	assert.Equal(t, timeline.RangeList{{First: 1000, Second: 1100}}, b.TimeWindow())
	assert.Equal(t, timeline.Time(1050), again.Time())
	s, ok := cb.Last()
	require.True(t, ok)
	assert.Equal(t, int64(50), s.Value)
}
