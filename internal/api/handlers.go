// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/playback"
	"github.com/ManuGH/tempus/internal/pool"
	"github.com/ManuGH/tempus/internal/timeline"
)

// Range is a closed time interval in nanoseconds.
type Range struct {
	First int64 `json:"first"`
	Last  int64 `json:"last"`
}

// DeviceStatus describes one pool child.
type DeviceStatus struct {
	Handle    string  `json:"handle"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Type      string  `json:"type"`
	Enabled   bool    `json:"enabled"`
	Open      bool    `json:"open"`
	Streaming bool    `json:"streaming"`
	Window    []Range `json:"window"`
	Time      *int64  `json:"time"`
	LastError string  `json:"lastError,omitempty"`
}

// Status is the polled state of the pool and the engine.
type Status struct {
	State      string         `json:"state"`
	RunID      string         `json:"runId,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
	Time       *int64         `json:"time"`
	Position   *int64         `json:"position"`
	DeviceType string         `json:"deviceType"`
	Window     []Range        `json:"window"`
	Size       int64          `json:"size"`
	Streaming  bool           `json:"streaming"`
	Settings   pool.Settings  `json:"settings"`
	Devices    []DeviceStatus `json:"devices"`
}

// TimeResponse answers time queries and stepping operations.
type TimeResponse struct {
	Time *int64 `json:"time"`
}

// nullableTime maps Invalid to JSON null.
func nullableTime(t timeline.Time) *int64 {
	if !t.Valid() {
		return nil
	}
	v := int64(t)
	return &v
}

func ranges(l timeline.RangeList) []Range {
	out := make([]Range, 0, len(l))
	for _, r := range l {
		out = append(out, Range{First: int64(r.First), Last: int64(r.Second)})
	}
	return out
}

func (s *Server) status() Status {
	p := s.pool
	st := Status{
		State:      string(s.engine.State()),
		RunID:      s.engine.RunID(),
		Time:       nullableTime(p.Time()),
		DeviceType: p.DeviceType().String(),
		Window:     ranges(p.TimeWindow()),
		Size:       p.Size(),
		Streaming:  p.StreamingEnabled(),
		Settings:   p.Settings(),
		Devices:    []DeviceStatus{},
	}
	if err := s.engine.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if st.Size > 0 && st.Time != nil {
		if pos := p.TimeToPos(p.Time()); pos >= 0 {
			st.Position = &pos
		}
	}
	for _, c := range p.Children() {
		dev := c.Device
		ds := DeviceStatus{
			Handle:    c.Handle.String(),
			Name:      dev.Name(),
			Kind:      dev.Kind(),
			Type:      dev.Type().String(),
			Enabled:   dev.Enabled(),
			Open:      dev.IsOpen(),
			Streaming: dev.StreamingEnabled(),
			Window:    ranges(dev.TimeWindow()),
			Time:      nullableTime(dev.Time()),
		}
		if err := dev.LastError(); err != nil {
			ds.LastError = err.Error()
		}
		st.Devices = append(st.Devices, ds)
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleSeek reads the pool at ?t= (any timeline.ParseTime form) or at the
// sample index ?pos=, which must lie in [0, size). A running playback is
// stopped first.
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tRaw, posRaw := q.Get("t"), q.Get("pos")
	if (tRaw == "") == (posRaw == "") {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: exactly one of t or pos is required", ErrBadParameter))
		return
	}

	s.engine.Stop()
	var ok bool
	if tRaw != "" {
		t, err := timeline.ParseTime(tRaw)
		if err != nil || !t.Valid() {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: t=%q", ErrBadParameter, tRaw))
			return
		}
		ok = s.pool.Seek(r.Context(), t)
	} else {
		pos, err := strconv.ParseInt(posRaw, 10, 64)
		if err != nil || pos < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: pos=%q", ErrBadParameter, posRaw))
			return
		}
		if size := s.pool.Size(); pos >= size {
			writeError(w, r, http.StatusUnprocessableEntity, fmt.Errorf("%w: pos=%d size=%d", ErrPositionOutOfRange, pos, size))
			return
		}
		ok = s.pool.SeekPos(r.Context(), pos)
	}
	if !ok {
		writeError(w, r, http.StatusUnprocessableEntity, ErrReadFailed)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePlay(play func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := play(r.Context()); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, playback.ErrNothingToPlay) {
				code = http.StatusConflict
			}
			writeError(w, r, code, err)
			return
		}
		logger := log.WithContext(r.Context(), s.logger)
		logger.Info().
			Str(log.FieldEvent, "api.play").
			Str(log.FieldRunID, s.engine.RunID()).
			Msg("playback requested")
		writeJSON(w, http.StatusAccepted, s.status())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStep(step func(context.Context) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !step(r.Context()) {
			writeError(w, r, http.StatusUnprocessableEntity, ErrReadFailed)
			return
		}
		writeJSON(w, http.StatusOK, TimeResponse{Time: nullableTime(s.pool.Time())})
	}
}

// handleTime answers next, previous and closest queries around ?t=, which
// defaults to the current pool time. Null means no such time.
func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	t := s.pool.Time()
	if raw := r.URL.Query().Get("t"); raw != "" {
		parsed, err := timeline.ParseTime(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: t=%q", ErrBadParameter, raw))
			return
		}
		t = parsed
	}

	var out timeline.Time
	switch dir := chi.URLParam(r, "direction"); dir {
	case "next":
		out = s.pool.NextTime(t)
	case "previous":
		out = s.pool.PreviousTime(t)
	case "closest":
		out = s.pool.ClosestTime(t)
	default:
		writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: direction %q", ErrBadParameter, dir))
		return
	}
	writeJSON(w, http.StatusOK, TimeResponse{Time: nullableTime(out)})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Settings())
}

// handlePutSettings merges the fields present in the body into the current
// settings.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.pool.Settings()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrBadParameter, err))
		return
	}
	s.pool.ApplySettings(settings)
	writeJSON(w, http.StatusOK, s.pool.Settings())
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	if s.save == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrSessionDisabled)
		return
	}
	path, err := s.save(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// handleLogs returns the recent event log, newest first.
func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	logs := log.GetRecentLogs()
	out := make([]log.Entry, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		out = append(out, logs[i])
	}
	writeJSON(w, http.StatusOK, out)
}
