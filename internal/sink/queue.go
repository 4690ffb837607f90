// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sink

import (
	"context"
	"sync"

	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/metrics"
)

// Policy decides what Push does when the queue is full.
type Policy int

const (
	// Overwrite drops the oldest pending sample.
	Overwrite Policy = iota
	// Block waits until the worker frees a slot.
	Block
)

// Handler processes one sample. Returning false swallows the sample instead of
// forwarding it downstream.
type Handler func(ctx context.Context, s Sample) (Sample, bool)

// Queue is an asynchronous consumer: a bounded mailbox drained by a single
// worker goroutine.
//
// Thread-safety: all fields are protected by mu; Push, Wait and Reset may be
// called from any goroutine.
type Queue struct {
	name     string
	handler  Handler
	capacity int
	policy   Policy

	mu         sync.Mutex
	cond       *sync.Cond
	items      []Sample
	busy       bool
	closed     bool
	disabled   bool
	drained    chan struct{}
	downstream []Consumer
	totalDrops uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a stopped queue; call Start to launch the worker.
func NewQueue(name string, capacity int, policy Policy, h Handler) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if h == nil {
		h = func(_ context.Context, s Sample) (Sample, bool) { return s, true }
	}
	q := &Queue{name: name, handler: h, capacity: capacity, policy: policy}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Connect appends a downstream consumer.
func (q *Queue) Connect(c Consumer) {
	q.mu.Lock()
	q.downstream = append(q.downstream, c)
	q.mu.Unlock()
}

// Start launches the worker goroutine. It stops when ctx is done or Close is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	q.wg.Add(1)
	go q.run(ctx)
}

// Close stops the worker and releases blocked callers.
func (q *Queue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.signalDrainedLocked()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) Push(s Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.disabled {
		return
	}
	for len(q.items) >= q.capacity {
		if q.policy == Overwrite {
			q.items = q.items[1:]
			q.totalDrops++
			metrics.IncSinkDrop(q.name)
			break
		}
		q.cond.Wait()
		if q.closed {
			return
		}
	}
	q.items = append(q.items, s)
	q.cond.Broadcast()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	logger := log.WithComponent("sink").With().Str("sink", q.name).Logger()
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.items = nil
			q.signalDrainedLocked()
			q.mu.Unlock()
			return
		}
		s := q.items[0]
		q.items = q.items[1:]
		q.busy = true
		downstream := append([]Consumer(nil), q.downstream...)
		q.cond.Broadcast()
		q.mu.Unlock()

		out, ok := q.handler(ctx, s)
		if ok {
			for _, c := range downstream {
				if c.Enabled() {
					c.Push(out)
				}
			}
		}

		q.mu.Lock()
		q.busy = false
		if len(q.items) == 0 {
			q.signalDrainedLocked()
		}
		q.mu.Unlock()
		logger.Trace().Int64("time_ns", int64(s.Time)).Msg("sample processed")
	}
}

func (q *Queue) signalDrainedLocked() {
	if q.drained != nil {
		close(q.drained)
		q.drained = nil
	}
}

// Wait blocks until the queue is empty and the worker idle, or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.closed || (len(q.items) == 0 && !q.busy) {
		q.mu.Unlock()
		return nil
	}
	if q.drained == nil {
		q.drained = make(chan struct{})
	}
	ch := q.drained
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Reset() {
	q.mu.Lock()
	q.items = nil
	if !q.busy {
		q.signalDrainedLocked()
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) SetEnabled(enabled bool) {
	q.mu.Lock()
	q.disabled = !enabled
	q.mu.Unlock()
}

func (q *Queue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.disabled
}

func (q *Queue) Downstream() []Consumer {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Consumer(nil), q.downstream...)
}

// Drops returns the number of overwritten samples.
func (q *Queue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalDrops
}
