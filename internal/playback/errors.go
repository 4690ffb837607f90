// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import "errors"

var (
	// ErrReadFailed is stored in LastError when a playback read fails.
	ErrReadFailed = errors.New("playback: read failed")
	// ErrNothingToPlay is returned by Play when the pool has no Temporal child.
	ErrNothingToPlay = errors.New("playback: no temporal device")
)
