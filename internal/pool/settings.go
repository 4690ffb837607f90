// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"github.com/ManuGH/tempus/internal/timeline"
)

// Settings hold the playback parameters owned by the pool.
type Settings struct {
	PlaySpeed          float64       `yaml:"playSpeed" json:"playSpeed"`
	UsePlaySpeed       bool          `yaml:"usePlaySpeed" json:"usePlaySpeed"`
	MissFramesEnabled  bool          `yaml:"missFramesEnabled" json:"missFramesEnabled"`
	Repeat             bool          `yaml:"repeat" json:"repeat"`
	UseTimeLimits      bool          `yaml:"useTimeLimits" json:"useTimeLimits"`
	StopBeginTime      timeline.Time `yaml:"stopBeginTime" json:"stopBeginTime"`
	StopEndTime        timeline.Time `yaml:"stopEndTime" json:"stopEndTime"`
	MaxReadThreadCount int           `yaml:"maxReadThreadCount" json:"maxReadThreadCount"`
	ReadMaxFPS         int           `yaml:"readMaxFPS" json:"readMaxFPS"`
	Backward           bool          `yaml:"backward" json:"backward"`
}

// DefaultSettings returns the settings of a new pool.
func DefaultSettings() Settings {
	return Settings{
		PlaySpeed:         1,
		MissFramesEnabled: true,
		StopBeginTime:     timeline.Invalid,
		StopEndTime:       timeline.Invalid,
		ReadMaxFPS:        100,
	}
}

// Normalize clamps counts to zero, replaces a non-positive speed with 1 and
// swaps inverted stop times.
func (s Settings) Normalize() Settings {
	if !(s.PlaySpeed > 0) {
		s.PlaySpeed = 1
	}
	s.MaxReadThreadCount = max(0, s.MaxReadThreadCount)
	s.ReadMaxFPS = max(0, s.ReadMaxFPS)
	if s.StopBeginTime.Valid() && s.StopEndTime.Valid() && s.StopEndTime < s.StopBeginTime {
		s.StopBeginTime, s.StopEndTime = s.StopEndTime, s.StopBeginTime
	}
	return s
}

func (s Settings) limitsChanged(o Settings) bool {
	return s.UseTimeLimits != o.UseTimeLimits ||
		(s.UseTimeLimits && (s.StopBeginTime != o.StopBeginTime || s.StopEndTime != o.StopEndTime))
}

// Settings returns a snapshot of the settings.
func (p *Pool) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// ApplySettings replaces all settings at once.
func (p *Pool) ApplySettings(s Settings) {
	p.updateSettings(func(cur *Settings) { *cur = s })
}

func (p *Pool) updateSettings(fn func(*Settings)) {
	p.mu.Lock()
	old := p.settings
	next := old
	fn(&next)
	next = next.Normalize()
	if next == old {
		p.mu.Unlock()
		return
	}
	p.settings = next
	if next.limitsChanged(old) {
		p.dirtyWindow.Store(true)
	}
	p.mu.Unlock()

	p.broker.Publish(Event{Kind: EventSettingsChanged, Settings: next})
}

func (p *Pool) SetPlaySpeed(speed float64) {
	p.updateSettings(func(s *Settings) { s.PlaySpeed = speed })
}

func (p *Pool) SetUsePlaySpeed(enable bool) {
	p.updateSettings(func(s *Settings) { s.UsePlaySpeed = enable })
}

func (p *Pool) SetMissFramesEnabled(enable bool) {
	p.updateSettings(func(s *Settings) { s.MissFramesEnabled = enable })
}

func (p *Pool) SetRepeat(enable bool) {
	p.updateSettings(func(s *Settings) { s.Repeat = enable })
}

// SetUseTimeLimits clamps the visible window to the stop begin/end times.
func (p *Pool) SetUseTimeLimits(enable bool) {
	p.updateSettings(func(s *Settings) { s.UseTimeLimits = enable })
}

// SetStopBeginTime sets the lower playback limit. Inverted limits are swapped.
func (p *Pool) SetStopBeginTime(t timeline.Time) {
	p.updateSettings(func(s *Settings) { s.StopBeginTime = t })
}

// SetStopEndTime sets the upper playback limit. Inverted limits are swapped.
func (p *Pool) SetStopEndTime(t timeline.Time) {
	p.updateSettings(func(s *Settings) { s.StopEndTime = t })
}

// SetMaxReadThreadCount caps parallel reads. 0 means GOMAXPROCS.
func (p *Pool) SetMaxReadThreadCount(n int) {
	p.updateSettings(func(s *Settings) { s.MaxReadThreadCount = n })
}

// SetReadMaxFPS caps the iteration rate of unpaced playback. 0 disables it.
func (p *Pool) SetReadMaxFPS(fps int) {
	p.updateSettings(func(s *Settings) { s.ReadMaxFPS = fps })
}

func (p *Pool) SetBackward(enable bool) {
	p.updateSettings(func(s *Settings) { s.Backward = enable })
}
