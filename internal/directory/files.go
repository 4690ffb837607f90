// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package directory

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Files lists the files under root selected by opts, sorted by their
// NFC-normalized relative path.
func Files(root string, opts Options) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	suffixes := make([]string, 0, len(opts.Suffixes))
	for _, s := range opts.Suffixes {
		if s = normSuffix(s); s != "" {
			suffixes = append(suffixes, s)
		}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !matchSuffix(path, suffixes) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys := make(map[string]string, len(files))
	for _, f := range files {
		rel, _ := filepath.Rel(root, f)
		keys[f] = norm.NFC.String(filepath.ToSlash(rel))
	}
	slices.SortFunc(files, func(a, b string) int {
		return strings.Compare(keys[a], keys[b])
	})
	if opts.Reverse {
		slices.Reverse(files)
	}
	return slice(files, opts.Start, opts.Count), nil
}

func matchSuffix(path string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	ext := normSuffix(filepath.Ext(path))
	return ext != "" && slices.Contains(suffixes, ext)
}

func slice(files []string, start, count int) []string {
	start = max(0, start)
	if start >= len(files) {
		return nil
	}
	files = files[start:]
	if count > 0 && count < len(files) {
		files = files[:count]
	}
	return files
}
