// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sink

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueueForwardsAndWaits(t *testing.T) {
	var handled atomic.Int32
	q := NewQueue("double", 4, Block, func(_ context.Context, s Sample) (Sample, bool) {
		handled.Add(1)
		s.Value = s.Value.(int) * 2
		return s, true
	})
	out := NewCollector(0)
	q.Connect(out)
	q.Start(context.Background())
	defer q.Close()

	for i := 0; i < 10; i++ {
		q.Push(Sample{Time: 0, Value: i})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, int32(10), handled.Load())
	got := out.Samples()
	require.Len(t, got, 10)
	assert.Equal(t, 18, got[9].Value)
}

func TestQueueOverwriteDropsOldest(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("slow", 1, Overwrite, func(_ context.Context, s Sample) (Sample, bool) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
		return s, true
	})
	out := NewCollector(0)
	q.Connect(out)
	q.Start(context.Background())
	defer q.Close()

	q.Push(Sample{Value: 0})
	<-started // worker holds sample 0
	q.Push(Sample{Value: 1})
	q.Push(Sample{Value: 2}) // overwrites 1
	assert.Equal(t, uint64(1), q.Drops())

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	got := out.Samples()
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Value)
	assert.Equal(t, 2, got[1].Value)
}

func TestQueueWaitHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	q := NewQueue("stuck", 1, Block, func(_ context.Context, s Sample) (Sample, bool) {
		<-gate
		return s, false
	})
	q.Start(context.Background())
	defer q.Close()
	defer close(gate)

	q.Push(Sample{Value: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}

func TestQueueDisabledIgnoresPush(t *testing.T) {
	q := NewQueue("off", 1, Block, nil)
	q.SetEnabled(false)
	q.Push(Sample{Value: 1})
	assert.False(t, q.Enabled())
	require.NoError(t, q.Wait(context.Background()))
	q.Close()
}

func TestLeafs(t *testing.T) {
	leafA := NewCollector(0)
	leafB := NewCollector(0)
	mid := NewQueue("mid", 1, Block, nil)
	mid.Connect(leafA)
	mid.Connect(leafB)
	root := NewQueue("root", 1, Block, nil)
	root.Connect(mid)
	root.Connect(leafA)

	leafs := Leafs([]Consumer{root, leafB})
	require.Len(t, leafs, 2)
	assert.Same(t, leafB, leafs[0])
	assert.Same(t, leafA, leafs[1])
}

func TestCollectorLimit(t *testing.T) {
	c := NewCollector(2)
	for i := 0; i < 5; i++ {
		c.Push(Sample{Value: i})
	}
	got := c.Samples()
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Value)
	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, 4, last.Value)
}
