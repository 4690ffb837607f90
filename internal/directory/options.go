// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package directory

import (
	"fmt"
	"strings"

	"github.com/ManuGH/tempus/internal/device"
)

// Kind is the registry kind of Aggregator.
const Kind = "directory"

// Mode selects how sub-device timelines are combined.
type Mode int

const (
	// Independent overlays the sub-device timelines.
	Independent Mode = iota
	// SequenceOfData places the sub-device timelines back to back.
	SequenceOfData
)

func (m Mode) String() string {
	switch m {
	case Independent:
		return "independent"
	case SequenceOfData:
		return "sequence"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "independent":
		return Independent, nil
	case "sequence", "sequence_of_data", "sequenceofdata":
		return SequenceOfData, nil
	}
	return Independent, fmt.Errorf("%w: unknown directory mode %q", device.ErrConfiguration, s)
}

// Options configure which files an Aggregator opens and how.
type Options struct {
	Recursive bool
	// Suffixes restricts the listing to these extensions (case-insensitive,
	// with or without dot). Empty means every file.
	Suffixes []string
	// Reverse sorts names descending.
	Reverse bool
	// Start and Count slice the sorted listing. Count <= 0 means all.
	Start int
	Count int
	Mode  Mode
	// Templates force a driver kind per suffix.
	Templates map[string]string
}

func (o Options) clone() Options {
	c := o
	c.Suffixes = append([]string(nil), o.Suffixes...)
	if o.Templates != nil {
		c.Templates = make(map[string]string, len(o.Templates))
		for k, v := range o.Templates {
			c.Templates[normSuffix(k)] = v
		}
	}
	return c
}

func normSuffix(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
}
