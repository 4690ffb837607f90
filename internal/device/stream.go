// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/tempus/internal/timeline"
)

// KindStream is the registry kind of Stream.
const KindStream = "stream"

// SourceFunc produces a live value at wall-clock time now.
type SourceFunc func(now time.Time) any

// Stream is a Sequential driver ticking at a fixed interval while streaming.
type Stream struct {
	mu       sync.Mutex
	interval time.Duration
	source   SourceFunc
	open     bool
	seq      int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewStream returns a stream ticking every interval (100ms when zero). A nil
// source yields an increasing sequence number.
func NewStream(interval time.Duration, source SourceFunc) *Stream {
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	s := &Stream{interval: interval, source: source}
	if s.source == nil {
		s.source = func(time.Time) any {
			s.seq++
			return s.seq
		}
	}
	return s
}

// SetInterval changes the tick interval; it applies on the next streaming start.
func (s *Stream) SetInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

func (s *Stream) Kind() string             { return KindStream }
func (s *Stream) Type() Type               { return Sequential }
func (s *Stream) SupportedModes() OpenMode { return ModeRead }

func (s *Stream) Open(string, OpenMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval <= 0 {
		return fmt.Errorf("%w: stream interval must be > 0", ErrConfiguration)
	}
	s.open = true
	return nil
}

// Close stops a running ticker without waiting for it; Device.Close
// disables streaming beforehand.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.open = false
	return nil
}

func (s *Stream) TimeWindow() timeline.RangeList { return nil }

func (s *Stream) ReadAt(t timeline.Time) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	return s.source(time.Unix(0, int64(t))), nil
}

func (s *Stream) EnableStreaming(enable bool, emit Emit) error {
	s.mu.Lock()
	if !enable {
		cancel, done := s.cancel, s.done
		s.cancel, s.done = nil, nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		return nil
	}
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(ctx, s.interval, emit, done)
	return nil
}

func (s *Stream) run(ctx context.Context, interval time.Duration, emit Emit, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			v := s.source(now)
			s.mu.Unlock()
			emit(timeline.Time(now.UnixNano()), v)
		}
	}
}
