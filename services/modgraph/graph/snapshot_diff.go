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
	"fmt"
	"sort"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
)

// SnapshotDiff contains the differences between two snapshots.
type SnapshotDiff struct {
	BaseSnapshotID   string `json:"base_snapshot_id"`
	TargetSnapshotID string `json:"target_snapshot_id"`

	// NodesAdded are files present in target but not in base.
	NodesAdded []string `json:"nodes_added"`

	// NodesRemoved are files present in base but not in target.
	NodesRemoved []string `json:"nodes_removed"`

	EdgesAdded   []Edge `json:"edges_added"`
	EdgesRemoved []Edge `json:"edges_removed"`

	// CyclesIntroduced are cycles of target with no positional match in base.
	CyclesIntroduced []Cycle `json:"cycles_introduced"`

	// CyclesResolved are cycles of base with no positional match in target.
	CyclesResolved []Cycle `json:"cycles_resolved"`

	// UnusedIntroduced are "file:name" keys unused in target but not in base.
	UnusedIntroduced []string `json:"unused_introduced"`

	// UnusedResolved are "file:name" keys unused in base but not in target.
	UnusedResolved []string `json:"unused_resolved"`

	Summary DiffSummary `json:"summary"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges counts every added or removed node, edge, cycle and unused declaration.
	TotalChanges int `json:"total_changes"`

	// FilesAffected is the number of distinct files touched by any change.
	FilesAffected int `json:"files_affected"`

	// Regressed is true when target has cycles or unused declarations base did not.
	Regressed bool `json:"regressed"`
}

// DiffSnapshots computes the differences between two snapshots.
//
// Description:
//
//	Nodes and edges are compared by path. Cycles are compared positionally,
//	the same way DetectCycles deduplicates them. Unused declarations are
//	compared by file and name.
//
// Inputs:
//
//	base - The base snapshot. Must not be nil.
//	target - The target snapshot. Must not be nil.
//
// Outputs:
//
//	*SnapshotDiff - The computed differences. Node and edge lists follow graph
//	order, cycles follow discovery order, unused keys are sorted.
//	error - Non-nil if either snapshot or its graph is nil.
func DiffSnapshots(base, target *Snapshot) (*SnapshotDiff, error) {
	if base == nil || base.Graph == nil {
		return nil, fmt.Errorf("base snapshot must not be nil")
	}
	if target == nil || target.Graph == nil {
		return nil, fmt.Errorf("target snapshot must not be nil")
	}

	diff := &SnapshotDiff{
		BaseSnapshotID:   snapshotID(base),
		TargetSnapshotID: snapshotID(target),
		NodesAdded:       setDifference(target.Graph.nodes, base.Graph.index),
		NodesRemoved:     setDifference(base.Graph.nodes, target.Graph.index),
		CyclesIntroduced: cycleDifference(target.Findings.Cycles, base.Findings.Cycles),
		CyclesResolved:   cycleDifference(base.Findings.Cycles, target.Findings.Cycles),
		UnusedIntroduced: unusedDifference(target.Findings.Unused, base.Findings.Unused),
		UnusedResolved:   unusedDifference(base.Findings.Unused, target.Findings.Unused),
	}

	baseEdges := edgeSet(base.Graph)
	targetEdges := edgeSet(target.Graph)
	diff.EdgesAdded = edgeDifference(target.Graph.Edges(), baseEdges)
	diff.EdgesRemoved = edgeDifference(base.Graph.Edges(), targetEdges)

	affected := make(map[string]struct{})
	for _, n := range diff.NodesAdded {
		affected[n] = struct{}{}
	}
	for _, n := range diff.NodesRemoved {
		affected[n] = struct{}{}
	}
	for _, e := range append(append([]Edge(nil), diff.EdgesAdded...), diff.EdgesRemoved...) {
		affected[e.From] = struct{}{}
	}
	for _, c := range append(append([]Cycle(nil), diff.CyclesIntroduced...), diff.CyclesResolved...) {
		for _, n := range c {
			affected[n] = struct{}{}
		}
	}
	for _, d := range target.Findings.Unused {
		if containsString(diff.UnusedIntroduced, unusedKey(d)) {
			affected[d.FilePath] = struct{}{}
		}
	}
	for _, d := range base.Findings.Unused {
		if containsString(diff.UnusedResolved, unusedKey(d)) {
			affected[d.FilePath] = struct{}{}
		}
	}

	diff.Summary = DiffSummary{
		TotalChanges: len(diff.NodesAdded) + len(diff.NodesRemoved) +
			len(diff.EdgesAdded) + len(diff.EdgesRemoved) +
			len(diff.CyclesIntroduced) + len(diff.CyclesResolved) +
			len(diff.UnusedIntroduced) + len(diff.UnusedResolved),
		FilesAffected: len(affected),
		Regressed:     len(diff.CyclesIntroduced) > 0 || len(diff.UnusedIntroduced) > 0,
	}

	return diff, nil
}

func snapshotID(s *Snapshot) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata.SnapshotID
}

func setDifference(nodes []string, other map[string]int) []string {
	out := make([]string, 0)
	for _, n := range nodes {
		if _, ok := other[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func edgeSet(g *ModuleGraph) map[Edge]struct{} {
	set := make(map[Edge]struct{}, g.EdgeCount())
	for _, e := range g.Edges() {
		set[e] = struct{}{}
	}
	return set
}

func edgeDifference(edges []Edge, other map[Edge]struct{}) []Edge {
	out := make([]Edge, 0)
	for _, e := range edges {
		if _, ok := other[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func cycleDifference(cycles, other []Cycle) []Cycle {
	out := make([]Cycle, 0)
	for _, c := range cycles {
		if !containsCycle(other, c) {
			out = append(out, c)
		}
	}
	return out
}

func unusedDifference(decls, other []ast.Declaration) []string {
	otherKeys := make(map[string]struct{}, len(other))
	for _, d := range other {
		otherKeys[unusedKey(d)] = struct{}{}
	}
	out := make([]string, 0)
	for _, d := range decls {
		if _, ok := otherKeys[unusedKey(d)]; !ok {
			out = append(out, unusedKey(d))
		}
	}
	sort.Strings(out)
	return out
}

func unusedKey(d ast.Declaration) string {
	return d.FilePath + ":" + d.Name
}

func containsString(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}
