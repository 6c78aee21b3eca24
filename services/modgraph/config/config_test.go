// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, []string{"src"}, cfg.Roots)
	assert.Empty(t, cfg.Source)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
roots: [backend/src, frontend/src]
exclude_globs:
  - "**/*.spec.ts"
ignore_unused:
  - handler
  - "src/legacy/**:*"
include_dynamic_imports: true
snapshot_dir: .modgraph/snapshots
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"backend/src", "frontend/src"}, cfg.Roots)
	assert.Equal(t, []string{"**/*.spec.ts"}, cfg.ExcludeGlobs)
	assert.Equal(t, []string{"handler", "src/legacy/**:*"}, cfg.IgnoreUnused)
	assert.True(t, cfg.IncludeDynamicImports)
	assert.Equal(t, path, cfg.Source)

	// Absent keys keep their defaults.
	assert.Equal(t, []string{".ts", ".tsx"}, cfg.Extensions)
	assert.True(t, cfg.IncludeCommonJS)
	assert.Equal(t, int64(DefaultMaxFileSizeBytes), cfg.MaxFileSizeBytes)

	assert.Equal(t, filepath.Join(dir, ".modgraph/snapshots"), cfg.ResolveSnapshotDir(dir))
}

func TestParse_EmptyFile(t *testing.T) {
	cfg, err := Parse([]byte("\n  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"malformed yaml", "roots: [src", "parsing YAML"},
		{"wrong type", "roots: 42", "parsing YAML"},
		{"extension without dot", "extensions: [ts]", "startswith"},
		{"empty extensions", "extensions: []", "min"},
		{"exclude dir with slash", "exclude_dirs: [a/b]", "excludesall"},
		{"bad glob", `exclude_globs: ["[oops"]`, "glob"},
		{"bad ignore pattern", `ignore_unused: ["x[a-"]`, "glob"},
		{"negative max size", "max_file_size_bytes: -1", "gt"},
		{"empty root", `roots: [""]`, "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_TooLarge(t *testing.T) {
	data := []byte("# " + strings.Repeat("x", MaxYAMLFileSize))
	_, err := Parse(data)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewValidator_RegistersGlob(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.NoError(t, v.Var("src/**/*.gen.ts", "glob"))
	assert.Error(t, v.Var("[oops", "glob"))
}

func TestResolveSnapshotDir(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.ResolveSnapshotDir("/proj"))

	cfg.SnapshotDir = "/abs/snaps"
	assert.Equal(t, "/abs/snaps", cfg.ResolveSnapshotDir("/proj"))
}
