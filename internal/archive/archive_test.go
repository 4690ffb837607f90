// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

func TestDocumentContent(t *testing.T) {
	d := New()
	w := d.AsWriter()
	require.NoError(t, w.Content("speed", 2.5))
	require.NoError(t, w.Content("children", []record{{Name: "csv", Enabled: true}}))
	require.NoError(t, w.Content("speed", 3.0))

	assert.Equal(t, []string{"speed", "children"}, d.Names())

	var speed float64
	require.NoError(t, d.AsReader().Content("speed", &speed))
	assert.Equal(t, 3.0, speed)

	var children []record
	require.NoError(t, d.AsReader().Content("children", &children))
	assert.Equal(t, []record{{Name: "csv", Enabled: true}}, children)

	err := d.AsReader().Content("missing", &speed)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, d.Has("missing"))
}

func TestEncodeDecode(t *testing.T) {
	d := New()
	require.NoError(t, d.Set("b", "second"))
	require.NoError(t, d.Set("a", []int{1, 2}))

	var buf bytes.Buffer
	require.NoError(t, d.Encode(&buf))
	assert.True(t, strings.HasPrefix(buf.String(), "b: second\n"), buf.String())

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, got.Names())
	var a []int
	require.NoError(t, got.Get("a", &a))
	assert.Equal(t, []int{1, 2}, a)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode(strings.NewReader("- a\n- b\n"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("a: 1\na: 2\n"))
	assert.Error(t, err)

	d, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, d.Names())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	d := New()
	require.NoError(t, d.Set("time", int64(42)))
	require.NoError(t, d.Save(context.Background(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	var ts int64
	require.NoError(t, loaded.Get("time", &ts))
	assert.Equal(t, int64(42), ts)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
