// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package directory

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/tempus/internal/log"
)

// WatchDebounce coalesces bursts of file events into one notification.
var WatchDebounce = 500 * time.Millisecond

// Watch reports changes of the files selected by opts under root until ctx
// is done. onChange runs on a timer goroutine after each burst of events.
func Watch(ctx context.Context, root string, opts Options, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	if opts.Recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() || path == root {
				return err
			}
			return watcher.Add(path)
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}

	logger := log.WithComponent("directory")
	logger.Info().
		Str(log.FieldEvent, "directory.watch_started").
		Str(log.FieldPath, root).
		Msg("watching directory")

	suffixes := make([]string, 0, len(opts.Suffixes))
	for _, s := range opts.Suffixes {
		suffixes = append(suffixes, normSuffix(s))
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str(log.FieldEvent, "directory.watch_stopped").Str(log.FieldPath, root).Msg("directory watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if opts.Recursive && event.Has(fsnotify.Create) {
				// New sub-directories are watched as they appear.
				_ = watcher.Add(event.Name)
			}
			if !matchSuffix(event.Name, suffixes) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug().
				Str(log.FieldEvent, "directory.changed").
				Str(log.FieldPath, event.Name).
				Str("op", event.Op.String()).
				Msg("directory changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(WatchDebounce, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().
				Err(err).
				Str(log.FieldEvent, "directory.watch_error").
				Msg("directory watcher error")
		}
	}
}

// Watch reports changes of the opened directory. See the package-level Watch.
func (a *Aggregator) Watch(ctx context.Context, onChange func()) error {
	a.mu.RLock()
	root, opts := a.root, a.opts.clone()
	a.mu.RUnlock()
	if root == "" {
		return fmt.Errorf("directory not open")
	}
	return Watch(ctx, root, opts, onChange)
}
