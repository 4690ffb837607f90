// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import "errors"

var (
	// ErrUnknownHandle is returned for handles the pool does not own.
	ErrUnknownHandle = errors.New("pool: unknown handle")
	// ErrInvalidMode is returned by Open for combined or empty modes.
	ErrInvalidMode = errors.New("pool: invalid open mode")
)
