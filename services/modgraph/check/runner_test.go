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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/modgraph/services/modgraph/config"
	"github.com/AleutianAI/modgraph/services/modgraph/report"
)

// cyclicProject has one import cycle (a <-> b) and one unused export.
var cyclicProject = map[string]string{
	"src/a.ts":    "import { b } from \"./b\";\nexport const a = () => b();\n",
	"src/b.ts":    "import { a } from \"./a\";\nexport function b() {\n  return a;\n}\n",
	"src/util.ts": "export function unusedHelper() {}\nexport const used = 1;\n",
	"src/main.ts": "import { used } from \"./util\";\nconsole.log(used);\n",
}

// acyclicProject has no cycle and one unused export.
var acyclicProject = map[string]string{
	"src/util.ts": "export function unusedHelper() {}\nexport const used = 1;\n",
	"src/main.ts": "import { used } from \"./util\";\nconsole.log(used);\n",
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

func newTestRunner(t *testing.T, root string, cfg *config.Config, checks Checks, emitters ...Emitter) *Runner {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	r, err := NewRunner(Options{
		ProjectRoot: root,
		Config:      cfg,
		Checks:      checks,
		Emitters:    emitters,
	})
	require.NoError(t, err)
	return r
}

func unusedNames(rep *report.Report) []string {
	names := make([]string, 0, len(rep.Unused))
	for _, d := range rep.Unused {
		names = append(names, d.FilePath+":"+d.Name)
	}
	return names
}

func TestRun_AllChecks(t *testing.T) {
	root := writeProject(t, cyclicProject)
	var emitted []*report.Report
	r := newTestRunner(t, root, nil, AllChecks(), func(rep *report.Report) error {
		emitted = append(emitted, rep)
		return nil
	})
	assert.Equal(t, PhaseIdle, r.Phase())

	out, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseTerminal, r.Phase())
	assert.Equal(t, ExitFindings, out.ExitCode)
	require.Len(t, emitted, 1)
	assert.Same(t, out.Report, emitted[0])

	rep := out.Report
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 4, rep.FileCount())
	require.Len(t, rep.Cycles, 1)
	assert.Equal(t, "src/a.ts -> src/b.ts -> src/a.ts", rep.Cycles[0].String())
	assert.Equal(t, []string{"src/util.ts:unusedHelper"}, unusedNames(rep))
	assert.Empty(t, rep.ParseFailures)
	assert.Nil(t, out.Snapshot)
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		project map[string]string
		checks  Checks
		want    int
	}{
		{"cycles only with cycle", cyclicProject, Checks{Cycles: true}, ExitFindings},
		{"unused only with unused", cyclicProject, Checks{Unused: true}, ExitFindings},
		{"all checks no cycle", acyclicProject, AllChecks(), ExitOK},
		{"cycles only no cycle", acyclicProject, Checks{Cycles: true}, ExitOK},
		{"unused only no cycle", acyclicProject, Checks{Unused: true}, ExitFindings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, writeProject(t, tt.project), nil, tt.checks)
			out, err := r.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.ExitCode)
			assert.Equal(t, tt.checks.Cycles, out.Report.CycleCheck)
			assert.Equal(t, tt.checks.Unused, out.Report.UnusedCheck)
			if !tt.checks.Cycles {
				assert.Empty(t, out.Report.Cycles)
			}
			if !tt.checks.Unused {
				assert.Empty(t, out.Report.Unused)
			}
		})
	}
}

func TestRun_Idempotent(t *testing.T) {
	root := writeProject(t, cyclicProject)

	first, err := newTestRunner(t, root, nil, AllChecks()).Run(context.Background())
	require.NoError(t, err)
	second, err := newTestRunner(t, root, nil, AllChecks()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Report.Graph.Hash(), second.Report.Graph.Hash())
	assert.Equal(t, first.Report.Cycles, second.Report.Cycles)
	assert.Equal(t, first.Report.Unused, second.Report.Unused)
	assert.NotEqual(t, first.Report.RunID, second.Report.RunID)
}

func TestRun_MissingRootGivesEmptyReport(t *testing.T) {
	root := t.TempDir()
	r, err := NewRunner(Options{
		ProjectRoot: root,
		Roots:       []string{"nope"},
		Config:      config.Default(),
		Checks:      AllChecks(),
	})
	require.NoError(t, err)

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, out.ExitCode)
	assert.Equal(t, 0, out.Report.FileCount())
	assert.Equal(t, []string{"nope"}, out.Report.SkippedRoots)
}

func TestRun_ParseFailureBecomesEmptyNode(t *testing.T) {
	root := writeProject(t, acyclicProject)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "bad.ts"), []byte{0xff, 0xfe, 'x'}, 0o644))

	out, err := newTestRunner(t, root, nil, AllChecks()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"src/bad.ts"}, out.Report.ParseFailures)
	assert.True(t, out.Report.Graph.HasNode("src/bad.ts"))
	assert.Empty(t, out.Report.Graph.Dependencies("src/bad.ts"))
}

func TestRun_IgnoreUnused(t *testing.T) {
	cfg := config.Default()
	cfg.IgnoreUnused = []string{"unused*"}

	out, err := newTestRunner(t, writeProject(t, acyclicProject), cfg, Checks{Unused: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, out.Report.Unused)
	assert.Equal(t, 1, out.Report.UsageStats.Ignored)
	assert.Equal(t, ExitOK, out.ExitCode)
}

func TestRun_SavesSnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.SnapshotDir = t.TempDir()

	r, err := NewRunner(Options{
		ProjectRoot:   writeProject(t, cyclicProject),
		Config:        cfg,
		Checks:        AllChecks(),
		SnapshotLabel: "ci",
	})
	require.NoError(t, err)

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Snapshot)
	assert.Equal(t, out.Report.RunID, out.Snapshot.RunID)
	assert.Equal(t, "ci", out.Snapshot.Label)
	assert.Equal(t, 1, out.Snapshot.CycleCount)
	assert.Equal(t, 1, out.Snapshot.UnusedCount)
}

func TestRun_RunnerUsedOnce(t *testing.T) {
	r := newTestRunner(t, writeProject(t, acyclicProject), nil, AllChecks())

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunnerUsed)
}

func TestRun_EmitterError(t *testing.T) {
	boom := errors.New("boom")
	r := newTestRunner(t, writeProject(t, acyclicProject), nil, AllChecks(), func(*report.Report) error {
		return boom
	})

	out, err := r.Run(context.Background())
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, PhaseUsageChecked, r.Phase())
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(t, writeProject(t, acyclicProject), nil, AllChecks()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(Options{})
	assert.ErrorIs(t, err, ErrNilConfig)

	cfg := config.Default()
	cfg.Roots = []string{"app"}
	r, err := NewRunner(Options{ProjectRoot: "testdata/..", Config: cfg})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(r.ProjectRoot()))
	assert.Equal(t, []string{"app"}, r.Roots())

	r, err = NewRunner(Options{Config: cfg, Roots: []string{"lib"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"lib"}, r.Roots())
}

func TestExitCode(t *testing.T) {
	withCycles := func(r *report.Report) *report.Report {
		r.Cycles = append(r.Cycles, []string{"a.ts", "b.ts", "a.ts"})
		return r
	}

	tests := []struct {
		name string
		rep  *report.Report
		want int
	}{
		{"nil", nil, ExitOK},
		{"clean", &report.Report{CycleCheck: true, UnusedCheck: true}, ExitOK},
		{"cycles", withCycles(&report.Report{CycleCheck: true, UnusedCheck: true}), ExitFindings},
		{"cycles not checked", withCycles(&report.Report{UnusedCheck: true}), ExitOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.rep))
		})
	}
}

func TestChecksFromFlags(t *testing.T) {
	assert.Equal(t, AllChecks(), ChecksFromFlags(false, false))
	assert.Equal(t, AllChecks(), ChecksFromFlags(true, true))
	assert.Equal(t, Checks{Cycles: true}, ChecksFromFlags(true, false))
	assert.Equal(t, Checks{Unused: true}, ChecksFromFlags(false, true))
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "usage_checked", PhaseUsageChecked.String())
	assert.Equal(t, "terminal", PhaseTerminal.String())
	assert.Equal(t, "unknown", Phase(99).String())
}
