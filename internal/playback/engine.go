// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback drives a pool through time: paced or as-fast-as-possible
// playback, forward or backward, with repeat and backpressure against the
// pool's leaf consumers.
package playback

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/fsm"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/pool"
	"github.com/ManuGH/tempus/internal/telemetry"
)

// Phase tells a tick callback where the run stands.
type Phase int

const (
	PhaseStartPlaying Phase = iota
	PhasePlaying
	PhaseStopPlaying
)

func (p Phase) String() string {
	switch p {
	case PhaseStartPlaying:
		return "start_playing"
	case PhasePlaying:
		return "playing"
	case PhaseStopPlaying:
		return "stop_playing"
	}
	return "unknown"
}

// TickFunc is called at each phase. Returning false while playing stops the
// run; the return value is ignored for the other phases.
type TickFunc func(Phase) bool

// State of the engine.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

type trigger string

const (
	triggerPlay   trigger = "play"
	triggerFinish trigger = "finish"
)

// Engine plays a pool. It holds the pool without owning it and must be
// stopped before the pool is discarded.
//
// Stop must not be called from a tick callback; return false instead.
type Engine struct {
	pool   *pool.Pool
	logger zerolog.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	machine   *fsm.Machine[State, trigger]
	cancel    context.CancelFunc
	done      chan struct{}
	runID     string
	lastErr   error
	callbacks map[int]TickFunc
	nextID    int
}

// New returns a stopped engine for p.
func New(p *pool.Pool) *Engine {
	e := &Engine{
		pool:      p,
		logger:    log.WithComponent("playback"),
		tracer:    telemetry.Tracer(telemetry.TracerPlayback),
		callbacks: make(map[int]TickFunc),
	}
	m, err := fsm.New(StateStopped, []fsm.Transition[State, trigger]{
		{From: StateStopped, Event: triggerPlay, To: StateRunning, Guard: e.canPlay},
		{From: StateRunning, Event: triggerFinish, To: StateStopped},
	})
	if err != nil {
		panic(fmt.Sprintf("playback: state table: %v", err))
	}
	m.OnTransition(func(from, to State, ev trigger) {
		e.logger.Debug().
			Str(log.FieldEvent, "playback.state").
			Str("from", string(from)).
			Str("to", string(to)).
			Str("trigger", string(ev)).
			Msg("playback state changed")
	})
	e.machine = m
	return e
}

func (e *Engine) canPlay(context.Context, State, trigger) error {
	if e.pool.DeviceType() != device.Temporal {
		return ErrNothingToPlay
	}
	return nil
}

// Pool returns the played pool.
func (e *Engine) Pool() *pool.Pool { return e.pool }

// State returns the current state.
func (e *Engine) State() State { return e.machine.State() }

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.State() == StateRunning }

// LastError returns the error that stopped the last run, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// RunID returns the id of the current or last run.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// AddTickCallback registers fn and returns its id.
func (e *Engine) AddTickCallback(fn TickFunc) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.callbacks[e.nextID] = fn
	return e.nextID
}

// RemoveTickCallback unregisters the callback with the given id.
func (e *Engine) RemoveTickCallback(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.callbacks, id)
}

// tick calls every callback in registration order and reports whether all
// of them returned true.
func (e *Engine) tick(phase Phase) bool {
	e.mu.Lock()
	ids := slices.Sorted(maps.Keys(e.callbacks))
	fns := make([]TickFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.callbacks[id])
	}
	e.mu.Unlock()

	ok := true
	for _, fn := range fns {
		if !fn(phase) {
			ok = false
		}
	}
	return ok
}

// Play starts playing in the direction set on the pool. It is a no-op while
// running. The run outlives ctx; only its values are kept.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.machine.State() == StateRunning {
		return nil
	}
	if _, err := e.machine.Fire(ctx, triggerPlay); err != nil {
		return err
	}

	e.runID = uuid.NewString()
	e.lastErr = nil
	runCtx, cancel := context.WithCancel(log.ContextWithRunID(context.WithoutCancel(ctx), e.runID))
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	go e.run(runCtx, done)
	return nil
}

// PlayForward clears the backward flag and plays.
func (e *Engine) PlayForward(ctx context.Context) error {
	e.pool.SetBackward(false)
	return e.Play(ctx)
}

// PlayBackward sets the backward flag and plays.
func (e *Engine) PlayBackward(ctx context.Context) error {
	e.pool.SetBackward(true)
	return e.Play(ctx)
}

// Stop cancels the current run and blocks until its goroutine has exited.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// First stops and seeks to the first time of the pool.
func (e *Engine) First(ctx context.Context) bool {
	e.Stop()
	return e.pool.Seek(ctx, e.pool.FirstTime())
}

// Last stops and seeks to the last time of the pool.
func (e *Engine) Last(ctx context.Context) bool {
	e.Stop()
	return e.pool.Seek(ctx, e.pool.LastTime())
}

// Next stops and reads the next sample time.
func (e *Engine) Next(ctx context.Context) bool {
	e.Stop()
	return e.pool.Read(ctx, e.pool.NextTime(e.pool.Time()), false)
}

// Previous stops and reads the previous sample time.
func (e *Engine) Previous(ctx context.Context) bool {
	e.Stop()
	return e.pool.Read(ctx, e.pool.PreviousTime(e.pool.Time()), false)
}

func (e *Engine) finish(ctx context.Context, done chan struct{}, err error) {
	e.mu.Lock()
	if err != nil {
		e.lastErr = err
	}
	if e.done == done {
		if _, ferr := e.machine.Fire(ctx, triggerFinish); ferr != nil {
			e.logger.Error().Err(ferr).Str(log.FieldEvent, "playback.state_error").Msg("finishing run failed")
		}
		e.cancel()
		e.cancel, e.done = nil, nil
	}
	e.mu.Unlock()
	close(done)
}
