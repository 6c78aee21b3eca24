// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package check

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultDebounce is the quiet period after the last change before a
	// rerun starts.
	DefaultDebounce = 200 * time.Millisecond

	// DefaultMinInterval is the minimum time between two run starts.
	DefaultMinInterval = time.Second
)

// RunFunc performs one complete analysis run.
type RunFunc func(ctx context.Context) error

// WatchOptions configures Watch.
type WatchOptions struct {
	// Dirs are the absolute directories watched recursively.
	Dirs []string

	// Extensions are the source extensions whose changes trigger a rerun.
	Extensions []string

	// ExcludeDirs are directory names never watched.
	ExcludeDirs []string

	Debounce    time.Duration
	MinInterval time.Duration

	Logger *slog.Logger
}

// Watch runs run once, then again after every burst of source changes until
// ctx is canceled.
//
// Description:
//
//	Directories are watched recursively with fsnotify; directories created
//	later are added as they appear. Changes are coalesced over Debounce and
//	runs are throttled to one per MinInterval. A failed run is logged and
//	watching continues. The event loop and the run loop share an errgroup.
//
// Outputs:
//
//	error - Nil when ctx is canceled, otherwise a watcher error.
func Watch(ctx context.Context, opts WatchOptions, run RunFunc) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	w := &dirWatcher{watcher: watcher, opts: opts}
	for _, dir := range opts.Dirs {
		if err := w.addTree(dir); err != nil {
			opts.Logger.Warn("directory not watched",
				slog.String("dir", dir),
				slog.Any("error", err))
		}
	}

	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.pump(gctx, trigger)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-trigger:
			}
			if err := debounce(gctx, trigger, opts.Debounce); err != nil {
				return nil
			}
			if err := limiter.Wait(gctx); err != nil {
				return nil
			}
			if err := run(gctx); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				opts.Logger.Error("run failed", slog.Any("error", err))
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// debounce waits until no trigger arrived for d.
func debounce(ctx context.Context, trigger <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
			timer.Reset(d)
		case <-timer.C:
			return nil
		}
	}
}

type dirWatcher struct {
	watcher *fsnotify.Watcher
	opts    WatchOptions
}

// pump forwards relevant events to trigger without blocking.
func (w *dirWatcher) pump(ctx context.Context, trigger chan<- struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching sources: %w", err)
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.opts.Logger.Debug("source change",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()))
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}
}

func (w *dirWatcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.excluded(filepath.Base(event.Name)) {
				return false
			}
			if err := w.addTree(event.Name); err != nil {
				w.opts.Logger.Warn("directory not watched",
					slog.String("dir", event.Name),
					slog.Any("error", err))
			}
			return true
		}
	}
	if event.Op == fsnotify.Chmod {
		return false
	}
	for _, ext := range w.opts.Extensions {
		if strings.HasSuffix(event.Name, ext) {
			return true
		}
	}
	// Removed or renamed directories carry no extension.
	return event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

func (w *dirWatcher) excluded(name string) bool {
	return slices.Contains(w.opts.ExcludeDirs, name)
}

func (w *dirWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
