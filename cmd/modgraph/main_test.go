// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

var cyclicProject = map[string]string{
	"src/a.ts":    "import { b } from \"./b\";\nexport const a = () => b();\n",
	"src/b.ts":    "import { a } from \"./a\";\nexport function b() {\n  return a;\n}\n",
	"src/main.ts": "import { used } from \"./util\";\nconsole.log(used);\n",
	"src/util.ts": "export function unusedHelper() {}\nexport const used = 1;\n",
}

var acyclicProject = map[string]string{
	"src/main.ts": "import { used } from \"./util\";\nconsole.log(used);\n",
	"src/util.ts": "export function unusedHelper() {}\nexport const used = 1;\n",
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// run executes the command line and returns exit code, stdout and stderr.
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCheck_ExitCodes(t *testing.T) {
	cyclic := writeProject(t, cyclicProject)
	acyclic := writeProject(t, acyclicProject)

	tests := []struct {
		name         string
		args         []string
		wantExit     int
		wantContains []string
	}{
		{
			name:     "cycle blocks",
			args:     []string{"--project-root", cyclic},
			wantExit: 1,
			wantContains: []string{
				"Analyzed 4 files, 3 imports between them",
				"Found 1 circular dependency:",
				"  1. src/a.ts -> src/b.ts -> src/a.ts",
				"Found 1 unused declaration:",
				"src/util.ts:1:17 unusedHelper (function)",
			},
		},
		{
			name:         "unused alongside cycle check is informational",
			args:         []string{"--project-root", acyclic},
			wantExit:     0,
			wantContains: []string{"No circular dependencies found.", "Found 1 unused declaration:"},
		},
		{
			name:         "unused only blocks",
			args:         []string{"--project-root", acyclic, "--unused"},
			wantExit:     1,
			wantContains: []string{"Found 1 unused declaration:"},
		},
		{
			name:         "circular only",
			args:         []string{"--project-root", acyclic, "--circular"},
			wantExit:     0,
			wantContains: []string{"No circular dependencies found."},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"--project-root", cyclic, "--circular", "--frobnicate"},
			wantExit:     1,
			wantContains: []string{"Found 1 circular dependency:"},
		},
		{
			name:         "explicit dir",
			args:         []string{"--project-root", cyclic, "src"},
			wantExit:     1,
			wantContains: []string{"Analyzed 4 files"},
		},
		{
			name:         "missing dir is a warning",
			args:         []string{"--project-root", cyclic, "missing"},
			wantExit:     0,
			wantContains: []string{"Analyzed 0 files", `warning: skipped root "missing"`},
		},
		{
			name:         "unknown flag keeps following dir",
			args:         []string{"--project-root", cyclic, "--frobnicate", "missing"},
			wantExit:     0,
			wantContains: []string{"Analyzed 0 files", `warning: skipped root "missing"`},
		},
		{
			name:         "unknown flag with inline value",
			args:         []string{"--project-root", cyclic, "--frobnicate=1", "-z", "missing"},
			wantExit:     0,
			wantContains: []string{"Analyzed 0 files", `warning: skipped root "missing"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := run(t, tt.args...)
			assert.Equal(t, tt.wantExit, code, "stderr: %s", stderr)
			for _, want := range tt.wantContains {
				assert.Contains(t, stdout, want)
			}
		})
	}
}

func TestCheck_UnusedOnlyOmitsCycleSection(t *testing.T) {
	code, stdout, _ := run(t, "--project-root", writeProject(t, cyclicProject), "--unused")
	assert.Equal(t, 1, code)
	assert.NotContains(t, stdout, "circular")
}

func TestCheck_Errors(t *testing.T) {
	badConfig := writeProject(t, map[string]string{
		"src/a.ts":             "export const a = 1;\n",
		"modgraph.config.yaml": "extensions: []\n",
	})
	project := writeProject(t, acyclicProject)

	tests := []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{"invalid config", []string{"--project-root", badConfig}, "invalid configuration"},
		{"missing explicit config", []string{"--project-root", project, "--config", filepath.Join(project, "nope.yaml")}, "invalid configuration"},
		{"missing project root", []string{"--project-root", filepath.Join(project, "nope")}, "project root"},
		{"bad color", []string{"--project-root", project, "--color", "sometimes"}, "sometimes"},
		{"bad log level", []string{"--project-root", project, "--log-level", "loud"}, "--log-level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(t, tt.args...)
			assert.Equal(t, 2, code)
			assert.Contains(t, stderr, tt.wantStderr)
		})
	}
}

func TestCheck_JSON(t *testing.T) {
	code, stdout, _ := run(t, "--project-root", writeProject(t, cyclicProject), "--json")
	require.Equal(t, 1, code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc))
	assert.Contains(t, doc, "cycles")
	assert.Contains(t, doc, "unused")
}

func TestCheck_DOTFile(t *testing.T) {
	project := writeProject(t, cyclicProject)
	dot := filepath.Join(t.TempDir(), "graph.dot")

	code, _, _ := run(t, "--project-root", project, "--dot", dot)
	assert.Equal(t, 1, code)

	data, err := os.ReadFile(dot)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "digraph modules {"))
	assert.Contains(t, string(data), `"src/a.ts" -> "src/b.ts"`)
}

func TestCheck_MetricsFile(t *testing.T) {
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
	dir := t.TempDir()
	metrics := filepath.Join(dir, "metrics.prom")
	traces := filepath.Join(dir, "trace.json")

	code, _, stderr := run(t, "--project-root", writeProject(t, acyclicProject),
		"--metrics-file", metrics, "--trace-file", traces)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "modgraph_graph_nodes")
	assert.Contains(t, string(data), "modgraph_check_runs")

	spans, err := os.ReadFile(traces)
	require.NoError(t, err)
	assert.Contains(t, string(spans), "check.Run")
	assert.Contains(t, string(spans), "discovery.Discover")
}

func TestGraphCommand(t *testing.T) {
	code, stdout, stderr := run(t, "graph", "--project-root", writeProject(t, cyclicProject))
	assert.Equal(t, 0, code, stderr)
	assert.True(t, strings.HasPrefix(stdout, "digraph modules {"))
	assert.Contains(t, stdout, `color="red"`)
}

func TestDropUnknownFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"unknown long", []string{"--frobnicate", "src"}, []string{"src"}},
		{"unknown inline", []string{"--frobnicate=x", "src"}, []string{"src"}},
		{"unknown short", []string{"-z", "src"}, []string{"src"}},
		{"value flag keeps value", []string{"--dot", "--frobnicate", "src"}, []string{"--dot", "--frobnicate", "src"}},
		{"inline value", []string{"--dot=g.dot", "src"}, []string{"--dot=g.dot", "src"}},
		{"bool flag", []string{"--circular", "src"}, []string{"--circular", "src"}},
		{"subcommand flag", []string{"watch", "--debounce", "1s", "--nope"}, []string{"watch", "--debounce", "1s"}},
		{"help", []string{"-h"}, []string{"-h"}},
		{"terminator", []string{"--", "--frobnicate"}, []string{"--", "--frobnicate"}},
		{"stdin dash", []string{"-"}, []string{"-"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cli{}
			got := dropUnknownFlags(c.newRootCommand(), tt.args)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHelp(t *testing.T) {
	code, stdout, _ := run(t, "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Usage:")
	assert.Contains(t, stdout, "--circular")
	assert.Contains(t, stdout, "--unused")
	assert.Contains(t, stdout, "./graph")
}

func TestSnapshots(t *testing.T) {
	project := writeProject(t, acyclicProject)
	history := filepath.Join(t.TempDir(), "history")

	code, _, _ := run(t, "--project-root", project, "--snapshot-dir", history, "--snapshot-label", "before")
	require.Equal(t, 0, code)

	// Snapshots are ordered by creation time in milliseconds.
	time.Sleep(10 * time.Millisecond)
	for rel, content := range cyclicProject {
		path := filepath.Join(project, filepath.FromSlash(rel))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	code, _, _ = run(t, "--project-root", project, "--snapshot-dir", history, "--snapshot-label", "after")
	require.Equal(t, 1, code)

	code, stdout, stderr := run(t, "snapshots", "list", "--project-root", project, "--snapshot-dir", history)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "LABEL")
	assert.Contains(t, stdout, "before")
	assert.Contains(t, stdout, "after")

	code, stdout, stderr = run(t, "snapshots", "diff", "--project-root", project, "--snapshot-dir", history)
	assert.Equal(t, 1, code, stderr)
	assert.Contains(t, stdout, "+ file   src/a.ts")
	assert.Contains(t, stdout, "+ cycle  src/a.ts -> src/b.ts -> src/a.ts")
}

func TestSnapshots_Disabled(t *testing.T) {
	code, _, stderr := run(t, "snapshots", "list", "--project-root", writeProject(t, acyclicProject))
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "snapshot history is disabled")
}

func TestCheck_SampleProject(t *testing.T) {
	root := filepath.Join("..", "..", "test", "fixtures", "sample-ts-project")

	code, stdout, stderr := run(t, "--project-root", root)
	require.Equal(t, 1, code, stderr)

	assert.Contains(t, stdout, "Analyzed 9 files")
	assert.Contains(t, stdout, "Found 1 circular dependency:\n"+
		"  1. backend/src/services/grantService.ts -> backend/src/repositories/grantRepository.ts -> backend/src/services/grantService.ts\n")
	assert.Contains(t, stdout, "Found 2 unused declarations:\n"+
		"  backend/src/models/grant.ts:8:17 legacyGrantFormat (function)\n"+
		"  frontend/src/utils/format.ts:5:17 formatCurrency (function)\n")
	assert.NotContains(t, stdout, "format.spec.ts")
}
