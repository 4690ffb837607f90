// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/tempus/internal/log"
)

var (
	// ErrBadParameter reports a malformed query or body.
	ErrBadParameter = errors.New("bad parameter")
	// ErrReadFailed reports a seek or step the pool could not serve.
	ErrReadFailed = errors.New("read failed")
	// ErrPositionOutOfRange reports a sample position outside [0, size).
	ErrPositionOutOfRange = errors.New("position out of range")
	// ErrSessionDisabled reports that no session file is configured.
	ErrSessionDisabled = errors.New("session persistence disabled")
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	writeJSON(w, code, errorBody{
		Error:     err.Error(),
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}
