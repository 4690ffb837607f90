// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Entry describes a registered driver kind.
type Entry struct {
	Kind string
	// Suffixes are lower-case file extensions without dot handled by this kind.
	Suffixes []string
	New      func() Driver
}

// Registry maps driver kinds to constructors. Lookup order is registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// DefaultRegistry returns a registry holding the built-in drivers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Entry{Kind: KindCSV, Suffixes: []string{"csv"}, New: func() Driver { return NewCSVReader() }})
	r.MustRegister(Entry{Kind: KindFile, Suffixes: []string{"txt", "json", "bin"}, New: func() Driver { return NewFileResource() }})
	r.MustRegister(Entry{Kind: KindStream, New: func() Driver { return NewStream(0, nil) }})
	r.MustRegister(Entry{Kind: KindGenerator, New: func() Driver { return NewGenerator(nil) }})
	return r
}

// Register adds an entry. Kinds are unique.
func (r *Registry) Register(e Entry) error {
	if e.Kind == "" || e.New == nil {
		return fmt.Errorf("%w: entry needs a kind and a constructor", ErrConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.Kind == e.Kind {
			return fmt.Errorf("%w: kind %q already registered", ErrConfiguration, e.Kind)
		}
	}
	e.Suffixes = slices.Clone(e.Suffixes)
	for i, s := range e.Suffixes {
		e.Suffixes[i] = strings.ToLower(strings.TrimPrefix(s, "."))
	}
	r.entries = append(r.entries, e)
	return nil
}

// MustRegister is Register that panics; meant for static setup.
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// Create builds a closed device of the given kind.
func (r *Registry) Create(kind string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Kind == kind {
			return New(e.New()), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// ForPath returns the kinds able to read path: kinds registered for its
// suffix first, then kinds whose driver recognises the head bytes.
func (r *Registry) ForPath(path string, head []byte) []string {
	suffix := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	r.mu.RLock()
	defer r.mu.RUnlock()
	var kinds []string
	for _, e := range r.entries {
		if suffix != "" && slices.Contains(e.Suffixes, suffix) {
			kinds = append(kinds, e.Kind)
		}
	}
	for _, e := range r.entries {
		if slices.Contains(kinds, e.Kind) {
			continue
		}
		if p, ok := e.New().(Recognizer); ok && p.Recognize(path, head) {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}
