// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/metrics"
	"github.com/ManuGH/tempus/internal/pool"
	"github.com/ManuGH/tempus/internal/sink"
	"github.com/ManuGH/tempus/internal/telemetry"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Stop reasons reported in metrics, logs and spans.
const (
	ReasonCancelled  = "cancelled"
	ReasonEnd        = "end"
	ReasonReadFailed = "read_failed"
	ReasonNoTemporal = "no_temporal"
	ReasonCallback   = "callback"
)

// PollInterval is the sleep between checks while a paced run waits for the
// next sample.
var PollInterval = time.Millisecond

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	logger := log.WithContext(ctx, e.logger)
	s := e.pool.Settings()
	ctx, span := e.tracer.Start(ctx, "playback.run",
		trace.WithAttributes(telemetry.PlaybackAttributes(log.RunIDFromContext(ctx), s.PlaySpeed, s.Backward, s.Repeat)...))

	metrics.SetPlaybackRunning(true)
	logger.Info().
		Str(log.FieldEvent, "playback.started").
		Float64(log.FieldSpeed, s.PlaySpeed).
		Bool(log.FieldBackward, s.Backward).
		Bool(log.FieldRepeat, s.Repeat).
		Int64(log.FieldTime, int64(e.pool.Time())).
		Msg("playback started")

	start := time.Now()
	e.tick(PhaseStartPlaying)
	r := &runner{e: e, pool: e.pool, leafs: e.pool.Leafs()}
	reason, err := r.loop(ctx)
	e.tick(PhaseStopPlaying)

	metrics.SetPlaybackRunning(false)
	metrics.IncPlaybackStop(reason)
	recordRun(ctx, reason, r.frames)

	span.SetAttributes(
		attribute.Int64(telemetry.PlaybackFramesKey, r.frames),
		attribute.String(telemetry.PlaybackReasonKey, reason),
	)
	ev := logger.Info()
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(telemetry.ErrorAttributes(err, reason)...)
		span.SetStatus(codes.Error, err.Error())
		ev = logger.Error().Err(err)
	}
	span.End()
	ev.Str(log.FieldEvent, "playback.stopped").
		Str("reason", reason).
		Int64("frames", r.frames).
		Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
		Int64(log.FieldTime, int64(e.pool.Time())).
		Msg("playback stopped")

	e.finish(ctx, done, err)
}

// recordRun counts finished runs on the global meter provider.
func recordRun(ctx context.Context, reason string, frames int64) {
	meter := otel.GetMeterProvider().Meter("tempus/playback")
	runs, err := meter.Int64Counter("tempus_playback_runs_total", metric.WithDescription("Finished playback runs"))
	if err == nil {
		runs.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	played, err := meter.Int64Counter("tempus_playback_run_frames_total", metric.WithDescription("Frames played by finished runs"))
	if err == nil {
		played.Add(ctx, frames)
	}
}

type runner struct {
	e       *Engine
	pool    *pool.Pool
	leafs   []sink.Consumer
	limiter *rate.Limiter
	frames  int64
}

func (r *runner) loop(ctx context.Context) (string, error) {
	p := r.pool
	s := p.Settings()
	origin := time.Now()
	startTime := p.Time()
	speed := s.PlaySpeed

	for {
		if ctx.Err() != nil {
			return ReasonCancelled, nil
		}
		s = p.Settings()

		if s.UsePlaySpeed {
			var elapsed timeline.Time
			if speed != s.PlaySpeed {
				startTime, speed, origin = p.Time(), s.PlaySpeed, time.Now()
			} else {
				elapsed = timeline.Round(float64(time.Since(origin)) * s.PlaySpeed)
			}

			cur := timeline.Add(startTime, elapsed)
			if s.Backward {
				cur = timeline.Sub(startTime, elapsed)
			}

			wrapped := false
			first, last, now := p.FirstTime(), p.LastTime(), p.Time()
			switch {
			case !s.Backward && cur > last && now >= last:
				if !s.Repeat {
					return ReasonEnd, nil
				}
				cur, startTime, origin, wrapped = first, first, time.Now(), true
			case s.Backward && cur < first && now <= first:
				if !s.Repeat {
					return ReasonEnd, nil
				}
				cur, startTime, origin, wrapped = last, last, time.Now(), true
			}

			if !wrapped {
				target, wait := r.pace(cur, now, s)
				if wait {
					if !sleep(ctx, PollInterval) {
						return ReasonCancelled, nil
					}
					continue
				}
				cur = target
			}

			if !p.Read(ctx, cur, !s.Backward) {
				if ctx.Err() != nil {
					return ReasonCancelled, nil
				}
				metrics.IncPlaybackFrame(s.Backward, false)
				return ReasonReadFailed, fmt.Errorf("%w at %s", ErrReadFailed, cur)
			}
			metrics.IncPlaybackFrame(s.Backward, true)
		} else {
			reason, err := r.step(ctx, s)
			if reason != "" {
				return reason, err
			}
		}
		r.frames++

		for _, leaf := range r.leafs {
			if err := leaf.Wait(ctx); err != nil {
				return ReasonCancelled, nil
			}
		}
		runtime.Gosched()

		if !s.UsePlaySpeed && s.ReadMaxFPS > 0 {
			if r.limiter == nil || r.limiter.Limit() != rate.Limit(s.ReadMaxFPS) {
				r.limiter = rate.NewLimiter(rate.Limit(s.ReadMaxFPS), 1)
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return ReasonCancelled, nil
			}
		}

		if !r.hasOpenTemporal() {
			return ReasonNoTemporal, nil
		}
		if !r.e.tick(PhasePlaying) {
			return ReasonCallback, nil
		}
	}
}

// pace decides whether the paced loop must wait for the virtual time cur to
// reach the next (previous) sample, and which time to read otherwise. With
// miss frames disabled the exact next sample is read.
func (r *runner) pace(cur, now timeline.Time, s pool.Settings) (timeline.Time, bool) {
	p := r.pool
	poolTime := p.ClosestTime(now)
	if !s.Backward {
		next := poolTime
		if !(poolTime > now) {
			next = p.NextTime(poolTime)
		}
		if !next.Valid() {
			return cur, false
		}
		if next > cur {
			return cur, true
		}
		if !s.MissFramesEnabled {
			return next, false
		}
		return cur, false
	}

	prev := poolTime
	if !(poolTime < now) {
		prev = p.PreviousTime(poolTime)
	}
	if !prev.Valid() {
		return cur, false
	}
	if prev < cur {
		return cur, true
	}
	if !s.MissFramesEnabled {
		return prev, false
	}
	return cur, false
}

// step reads the next (previous) sample as fast as possible and wraps or
// stops at the boundary. A non-empty reason stops the loop.
func (r *runner) step(ctx context.Context, s pool.Settings) (string, error) {
	p := r.pool
	target := p.NextTime(p.Time())
	if s.Backward {
		target = p.PreviousTime(p.Time())
	}
	ok := p.Read(ctx, target, false)
	if ctx.Err() != nil {
		return ReasonCancelled, nil
	}
	metrics.IncPlaybackFrame(s.Backward, ok)

	atEnd := p.Time() >= p.LastTime()
	restart := p.FirstTime()
	if s.Backward {
		atEnd = p.Time() <= p.FirstTime()
		restart = p.LastTime()
	}
	if atEnd {
		if !s.Repeat {
			return ReasonEnd, nil
		}
		p.Read(ctx, restart, false)
		return "", nil
	}
	if !ok {
		return ReasonReadFailed, fmt.Errorf("%w at %s", ErrReadFailed, target)
	}
	return "", nil
}

func (r *runner) hasOpenTemporal() bool {
	for _, dev := range r.pool.ReadDevices() {
		if dev.IsOpen() && dev.Type() == device.Temporal {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
