// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/tempus/internal/device"
	"github.com/ManuGH/tempus/internal/pool"
)

// PoolChecker reports whether the pool has something to play: at least one
// enabled, open Temporal child.
type PoolChecker struct {
	pool *pool.Pool
}

// NewPoolChecker returns a checker for p.
func NewPoolChecker(p *pool.Pool) *PoolChecker { return &PoolChecker{pool: p} }

func (c *PoolChecker) Name() string { return "pool" }

func (c *PoolChecker) Check(context.Context) CheckResult {
	if len(c.pool.Handles()) == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no devices"}
	}
	readable := false
	for _, child := range c.pool.Children() {
		dev := child.Device
		if dev.Enabled() && dev.IsOpen() && dev.Type() == device.Temporal {
			readable = true
			break
		}
	}
	if !readable {
		return CheckResult{Status: StatusDegraded, Message: "no readable temporal device"}
	}
	return CheckResult{Status: StatusHealthy, Message: "window " + c.pool.TimeWindow().String()}
}

// DeviceChecker reports enabled devices that are closed or whose last read
// failed.
type DeviceChecker struct {
	pool *pool.Pool
}

// NewDeviceChecker returns a checker over the children of p.
func NewDeviceChecker(p *pool.Pool) *DeviceChecker { return &DeviceChecker{pool: p} }

func (c *DeviceChecker) Name() string { return "devices" }

func (c *DeviceChecker) Check(context.Context) CheckResult {
	var closed, failed []string
	enabled := 0
	for _, child := range c.pool.Children() {
		dev := child.Device
		if !dev.Enabled() {
			continue
		}
		enabled++
		switch {
		case !dev.IsOpen():
			closed = append(closed, dev.Name())
		case dev.LastError() != nil:
			failed = append(failed, fmt.Sprintf("%s: %v", dev.Name(), dev.LastError()))
		}
	}
	switch {
	case enabled > 0 && len(closed) == enabled:
		return CheckResult{Status: StatusUnhealthy, Message: "every enabled device is closed"}
	case len(closed) > 0 || len(failed) > 0:
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d closed, %d failing", len(closed), len(failed)),
			Error:   strings.Join(append(closed, failed...), "; "),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d enabled", enabled)}
}

// SessionChecker verifies that the session file can be written.
type SessionChecker struct {
	path string
}

// NewSessionChecker returns a checker for the session file at path.
func NewSessionChecker(path string) *SessionChecker { return &SessionChecker{path: path} }

func (c *SessionChecker) Name() string { return "session" }

func (c *SessionChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	dir := filepath.Dir(c.path)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: dir}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "expected directory", Message: dir}
	}

	if fi, err := os.Stat(c.path); err == nil {
		if fi.IsDir() {
			return CheckResult{Status: StatusUnhealthy, Error: "expected file, got directory"}
		}
		if fi.Size() == 0 {
			return CheckResult{Status: StatusDegraded, Message: "session file is empty"}
		}
		return CheckResult{Status: StatusHealthy, Message: "session file present"}
	}
	return CheckResult{Status: StatusHealthy, Message: "no session saved yet"}
}
