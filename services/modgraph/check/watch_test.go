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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_RerunsOnSourceChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchOptions{
			Dirs:        []string{dir},
			Extensions:  []string{".ts"},
			ExcludeDirs: []string{"node_modules"},
			Debounce:    20 * time.Millisecond,
		}, func(context.Context) error {
			runs <- struct{}{}
			return nil
		})
	}()

	waitRun := func() {
		t.Helper()
		select {
		case <-runs:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for run")
		}
	}

	waitRun()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("export const a = 1;\n"), 0o644))
	waitRun()

	// Drain runs from follow-up events of the same write.
	for drained := false; !drained; {
		select {
		case <-runs:
		case <-time.After(200 * time.Millisecond):
			drained = true
		}
	}

	// Non-source files do not trigger a run.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))
	select {
	case <-runs:
		t.Fatal("unexpected run for non-source change")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_FailedRunKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchOptions{
			Dirs:       []string{dir},
			Extensions: []string{".ts"},
			Debounce:   10 * time.Millisecond,
		}, func(context.Context) error {
			calls.Add(1)
			return errors.New("run failed")
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ts"), []byte("export {};\n"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatch_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Watch(ctx, WatchOptions{Dirs: []string{t.TempDir()}}, func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}
