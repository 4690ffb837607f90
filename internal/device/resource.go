// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"os"

	"github.com/ManuGH/tempus/internal/timeline"
)

// KindFile is the registry kind of FileResource.
const KindFile = "file"

// FileResource is a Resource driver exposing the content of one file.
type FileResource struct {
	data []byte
	open bool
}

func NewFileResource() *FileResource { return &FileResource{} }

func (f *FileResource) Kind() string             { return KindFile }
func (f *FileResource) Type() Type               { return Resource }
func (f *FileResource) SupportedModes() OpenMode { return ModeRead }

func (f *FileResource) Open(path string, _ OpenMode) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.data = data
	f.open = true
	return nil
}

func (f *FileResource) Close() error {
	f.data = nil
	f.open = false
	return nil
}

func (f *FileResource) TimeWindow() timeline.RangeList { return nil }

func (f *FileResource) ReadAt(timeline.Time) (any, error) {
	if !f.open {
		return nil, ErrNotOpen
	}
	return string(f.data), nil
}
