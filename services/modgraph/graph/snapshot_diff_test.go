// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"reflect"
	"testing"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

func TestDiffSnapshots(t *testing.T) {
	baseGraph := newTestGraph(t, []string{"a.ts", "b.ts", "old.ts"},
		[2]string{"a.ts", "b.ts"},
		[2]string{"b.ts", "old.ts"},
	)
	targetGraph := newTestGraph(t, []string{"a.ts", "b.ts", "new.ts"},
		[2]string{"a.ts", "b.ts"},
		[2]string{"b.ts", "a.ts"},
		[2]string{"b.ts", "new.ts"},
	)

	base := &Snapshot{
		Metadata: &SnapshotMetadata{SnapshotID: "base"},
		Graph:    baseGraph,
		Findings: SnapshotFindings{
			Cycles: DetectCycles(baseGraph),
			Unused: []ast.Declaration{{FilePath: "old.ts", Name: "legacy"}},
		},
	}
	target := &Snapshot{
		Metadata: &SnapshotMetadata{SnapshotID: "target"},
		Graph:    targetGraph,
		Findings: SnapshotFindings{
			Cycles: DetectCycles(targetGraph),
			Unused: []ast.Declaration{{FilePath: "new.ts", Name: "tempService"}},
		},
	}

	diff, err := DiffSnapshots(base, target)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}

	if diff.BaseSnapshotID != "base" || diff.TargetSnapshotID != "target" {
		t.Errorf("unexpected IDs %q, %q", diff.BaseSnapshotID, diff.TargetSnapshotID)
	}
	if !reflect.DeepEqual(diff.NodesAdded, []string{"new.ts"}) {
		t.Errorf("NodesAdded = %v", diff.NodesAdded)
	}
	if !reflect.DeepEqual(diff.NodesRemoved, []string{"old.ts"}) {
		t.Errorf("NodesRemoved = %v", diff.NodesRemoved)
	}
	wantAdded := []Edge{{From: "b.ts", To: "a.ts"}, {From: "b.ts", To: "new.ts"}}
	if !reflect.DeepEqual(diff.EdgesAdded, wantAdded) {
		t.Errorf("EdgesAdded = %v, want %v", diff.EdgesAdded, wantAdded)
	}
	if !reflect.DeepEqual(diff.EdgesRemoved, []Edge{{From: "b.ts", To: "old.ts"}}) {
		t.Errorf("EdgesRemoved = %v", diff.EdgesRemoved)
	}
	if !reflect.DeepEqual(diff.CyclesIntroduced, []Cycle{{"a.ts", "b.ts", "a.ts"}}) {
		t.Errorf("CyclesIntroduced = %v", diff.CyclesIntroduced)
	}
	if len(diff.CyclesResolved) != 0 {
		t.Errorf("CyclesResolved = %v", diff.CyclesResolved)
	}
	if !reflect.DeepEqual(diff.UnusedIntroduced, []string{"new.ts:tempService"}) {
		t.Errorf("UnusedIntroduced = %v", diff.UnusedIntroduced)
	}
	if !reflect.DeepEqual(diff.UnusedResolved, []string{"old.ts:legacy"}) {
		t.Errorf("UnusedResolved = %v", diff.UnusedResolved)
	}

	if !diff.Summary.Regressed {
		t.Error("expected regression")
	}
	// 1+1 nodes, 2+1 edges, 1 cycle, 1+1 unused.
	if diff.Summary.TotalChanges != 8 {
		t.Errorf("TotalChanges = %d, want 8", diff.Summary.TotalChanges)
	}
	// a.ts, b.ts, new.ts, old.ts.
	if diff.Summary.FilesAffected != 4 {
		t.Errorf("FilesAffected = %d, want 4", diff.Summary.FilesAffected)
	}
}

func TestDiffSnapshots_Identical(t *testing.T) {
	g := newTestGraph(t, []string{"a.ts", "b.ts"}, [2]string{"a.ts", "b.ts"})
	s := &Snapshot{Graph: g}

	diff, err := DiffSnapshots(s, s)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	if diff.Summary.TotalChanges != 0 || diff.Summary.Regressed {
		t.Errorf("expected empty diff, got %+v", diff.Summary)
	}
}

func TestDiffSnapshots_Nil(t *testing.T) {
	g := newTestGraph(t, []string{"a.ts"})
	if _, err := DiffSnapshots(nil, &Snapshot{Graph: g}); err == nil {
		t.Error("expected error for nil base")
	}
	if _, err := DiffSnapshots(&Snapshot{Graph: g}, &Snapshot{}); err == nil {
		t.Error("expected error for nil target graph")
	}
}
