// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/health"
	"github.com/ManuGH/tempus/internal/log"
	"github.com/ManuGH/tempus/internal/playback"
	"github.com/ManuGH/tempus/internal/pool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newServer serves a pool holding one generator with samples 0,10,...,40.
func newServer(t *testing.T, cfg Config, save SessionSaver) (*Server, *playback.Engine) {
	t.Helper()
	g := device.NewGenerator(nil)
	require.NoError(t, g.SetUniform(0, 5, 10))
	d := device.New(g)
	d.SetName("gen")
	require.NoError(t, d.Open(device.ModeRead))

	p := pool.New()
	p.SetReadMaxFPS(0)
	p.Add(d)
	e := playback.New(p)
	t.Cleanup(func() {
		e.Stop()
		p.Clear()
	})
	return New(cfg, e, save), e
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, rd))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func timeOf(t *testing.T, rec *httptest.ResponseRecorder) *int64 {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[TimeResponse](t, rec).Time
}

func ptr(v int64) *int64 { return &v }

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newServer(t, Config{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/healthz?verbose=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[health.Response](t, rec)
	assert.Equal(t, health.StatusHealthy, resp.Status)
	assert.Contains(t, resp.Checks, "pool")
	assert.Contains(t, resp.Checks, "devices")
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	do(t, h, http.MethodGet, "/api/status", "")
	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tempus_http_request_duration_seconds")
}

func TestStatus(t *testing.T) {
	s, _ := newServer(t, Config{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[Status](t, rec)
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, "temporal", strings.ToLower(st.DeviceType))
	assert.Equal(t, []Range{{First: 0, Last: 40}}, st.Window)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, ptr(0), st.Time, "the child was synchronised on add")
	require.Len(t, st.Devices, 1)
	assert.Equal(t, "gen", st.Devices[0].Name)
	assert.True(t, st.Devices[0].Open)
}

func TestSeek(t *testing.T) {
	s, _ := newServer(t, Config{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/seek?t=30", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ptr(30), decode[Status](t, rec).Time)

	rec = do(t, h, http.MethodPost, "/api/seek?pos=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[Status](t, rec)
	assert.Equal(t, ptr(20), st.Time)
	assert.Equal(t, ptr(2), st.Position)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/seek", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/seek?t=1&pos=1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/seek?t=soon", "").Code)
	rec = do(t, h, http.MethodPost, "/api/seek?pos=99", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Error, "position out of range")
	rec = do(t, h, http.MethodPost, "/api/seek?pos=4", "")
	require.Equal(t, http.StatusOK, rec.Code, "the last position is in range")
	assert.Equal(t, ptr(40), decode[Status](t, rec).Time)
}

func TestTimeQueries(t *testing.T) {
	s, _ := newServer(t, Config{}, nil)
	h := s.Handler()

	assert.Equal(t, ptr(20), timeOf(t, do(t, h, http.MethodGet, "/api/time/next?t=10", "")))
	assert.Nil(t, timeOf(t, do(t, h, http.MethodGet, "/api/time/previous?t=0", "")))
	assert.Equal(t, ptr(30), timeOf(t, do(t, h, http.MethodGet, "/api/time/closest?t=26", "")))
	assert.Equal(t, ptr(10), timeOf(t, do(t, h, http.MethodGet, "/api/time/next", "")), "defaults to the pool time")
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/time/sideways", "").Code)
}

func TestStepping(t *testing.T) {
	s, _ := newServer(t, Config{}, nil)
	h := s.Handler()

	assert.Equal(t, ptr(40), timeOf(t, do(t, h, http.MethodPost, "/api/last", "")))
	assert.Equal(t, ptr(30), timeOf(t, do(t, h, http.MethodPost, "/api/previous", "")))
	assert.Equal(t, ptr(0), timeOf(t, do(t, h, http.MethodPost, "/api/first", "")))
	assert.Equal(t, ptr(10), timeOf(t, do(t, h, http.MethodPost, "/api/next", "")))
}

func TestSettings(t *testing.T) {
	s, _ := newServer(t, Config{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPut, "/api/settings", `{"repeat":true,"playSpeed":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[pool.Settings](t, rec)
	assert.True(t, got.Repeat)
	assert.Equal(t, 2.0, got.PlaySpeed)
	assert.Equal(t, 0, got.ReadMaxFPS, "absent fields are kept")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/settings", `{"tempo":3}`).Code)

	rec = do(t, h, http.MethodGet, "/api/settings", "")
	assert.True(t, decode[pool.Settings](t, rec).Repeat)
}

func TestPlayAndStop(t *testing.T) {
	s, e := newServer(t, Config{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/play/forward", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool { return !e.Running() }, 5*time.Second, time.Millisecond)

	rec = do(t, h, http.MethodGet, "/api/status", "")
	st := decode[Status](t, rec)
	assert.Equal(t, ptr(40), st.Time)
	assert.NotEmpty(t, st.RunID)

	rec = do(t, h, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode[Status](t, rec).State)
}

func TestPlayWithoutTemporalDevice(t *testing.T) {
	s := New(Config{}, playback.New(pool.New()), nil)
	rec := do(t, s.Handler(), http.MethodPost, "/api/play", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSaveSession(t *testing.T) {
	s, _ := newServer(t, Config{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Handler(), http.MethodPost, "/api/session/save", "").Code)

	s, _ = newServer(t, Config{}, func(context.Context) (string, error) { return "/tmp/session.yaml", nil })
	rec := do(t, s.Handler(), http.MethodPost, "/api/session/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/tmp/session.yaml", decode[map[string]string](t, rec)["path"])

	s, _ = newServer(t, Config{}, func(context.Context) (string, error) { return "", errors.New("disk full") })
	rec = do(t, s.Handler(), http.MethodPost, "/api/session/save", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "disk full", decode[errorBody](t, rec).Error)
}

func TestReadyzFailsWhenDevicesClosed(t *testing.T) {
	s, e := newServer(t, Config{}, nil)
	for _, c := range e.Pool().Children() {
		require.NoError(t, c.Device.Close())
	}
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Handler(), http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/healthz", "").Code)
}

func TestLogsNewestFirst(t *testing.T) {
	log.ClearRecentLogs()
	t.Cleanup(log.ClearRecentLogs)
	s, e := newServer(t, Config{}, nil)
	h := s.Handler()

	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/play", "").Code)
	e.Stop()

	rec := do(t, h, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]log.Entry](t, rec)
	require.NotEmpty(t, entries)
	events := make([]string, 0, len(entries))
	for _, en := range entries {
		events = append(events, en.Event)
	}
	assert.Contains(t, events, "api.play")
}

func TestRateLimit(t *testing.T) {
	s, _ := newServer(t, Config{RateLimit: 1}, nil)
	h := s.Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _ := newServer(t, Config{ShutdownTimeout: time.Second}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	client.CloseIdleConnections()
}
