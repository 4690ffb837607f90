// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package archive stores named values in a YAML document. It is the
// persistence collaborator used to save and restore pool sessions.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/tempus/internal/log"
)

// ErrNotFound is returned when reading a name the archive does not hold.
var ErrNotFound = errors.New("archive: content not found")

// Writer stores values by name.
type Writer interface {
	Content(name string, value any) error
}

// Reader loads values by name into out.
type Reader interface {
	Content(name string, out any) error
}

// Document is an ordered set of named YAML values. It implements Writer
// through Set and Reader through Get; use AsWriter/AsReader to pick a side.
type Document struct {
	mu     sync.RWMutex
	names  []string
	values map[string]*yaml.Node
}

// New returns an empty document.
func New() *Document {
	return &Document{values: make(map[string]*yaml.Node)}
}

// Set encodes value under name, replacing any previous value.
func (d *Document) Set(name string, value any) error {
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return fmt.Errorf("encode %q: %w", name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.values[name]; !ok {
		d.names = append(d.names, name)
	}
	d.values[name] = &node
	return nil
}

// Get decodes the value stored under name into out.
func (d *Document) Get(name string, out any) error {
	d.mu.RLock()
	node, ok := d.values[name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("decode %q: %w", name, err)
	}
	return nil
}

// Has reports whether name is stored.
func (d *Document) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.values[name]
	return ok
}

// Names lists the stored names in insertion order.
func (d *Document) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.names)
}

type writer struct{ d *Document }

func (w writer) Content(name string, value any) error { return w.d.Set(name, value) }

type reader struct{ d *Document }

func (r reader) Content(name string, out any) error { return r.d.Get(name, out) }

// AsWriter exposes d as a Writer.
func (d *Document) AsWriter() Writer { return writer{d} }

// AsReader exposes d as a Reader.
func (d *Document) AsReader() Reader { return reader{d} }

// Encode writes d as a single YAML mapping.
func (d *Document) Encode(w io.Writer) error {
	d.mu.RLock()
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range d.names {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			d.values[name])
	}
	d.mu.RUnlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return err
	}
	return enc.Close()
}

// Decode reads a document written by Encode.
func Decode(r io.Reader) (*Document, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return New(), nil
		}
		return nil, fmt.Errorf("parse archive: %w", err)
	}
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = *root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse archive: expected a mapping at line %d", root.Line)
	}
	d := New()
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		if _, dup := d.values[name]; dup {
			return nil, fmt.Errorf("parse archive: duplicate name %q at line %d", name, root.Content[i].Line)
		}
		d.names = append(d.names, name)
		d.values[name] = root.Content[i+1]
	}
	return d, nil
}

// Save writes d to path atomically.
func (d *Document) Save(ctx context.Context, path string) error {
	logger := log.FromContext(ctx)

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending archive file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending archive file")
		}
	}()

	if err := d.Encode(pendingFile); err != nil {
		return fmt.Errorf("write archive data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace archive file: %w", err)
	}
	return nil
}

// Load reads the document stored at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}
