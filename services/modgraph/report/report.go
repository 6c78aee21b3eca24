// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders analysis findings as text, DOT and JSON.
//
// Rendering never changes the findings it is given.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/modgraph/services/modgraph/ast"
	"github.com/AleutianAI/modgraph/services/modgraph/graph"
	"github.com/AleutianAI/modgraph/services/modgraph/usage"
)

// SchemaVersion identifies the JSON report format.
const SchemaVersion = "1.0"

// Report holds the findings of one analysis run.
type Report struct {
	RunID       string
	ProjectRoot string
	Roots       []string

	// SkippedRoots are roots discovery could not scan.
	SkippedRoots []string

	Graph  *graph.ModuleGraph
	Cycles []graph.Cycle
	Unused []ast.Declaration

	// CycleCheck and UnusedCheck record which checks ran. Findings of a
	// check that did not run are not rendered.
	CycleCheck  bool
	UnusedCheck bool

	Unresolved []graph.UnresolvedImport
	BuildStats graph.BuildStats
	UsageStats usage.Stats

	// ParseFailures are files that became empty nodes.
	ParseFailures []string
}

// FileCount returns the number of analyzed files.
func (r *Report) FileCount() int {
	if r.Graph == nil {
		return 0
	}
	return r.Graph.NodeCount()
}

// HasFindings reports whether any check that ran found a defect.
func (r *Report) HasFindings() bool {
	return (r.CycleCheck && len(r.Cycles) > 0) || (r.UnusedCheck && len(r.Unused) > 0)
}

type jsonReport struct {
	SchemaVersion string                   `json:"schema_version"`
	RunID         string                   `json:"run_id"`
	ProjectRoot   string                   `json:"project_root"`
	Roots         []string                 `json:"roots"`
	SkippedRoots  []string                 `json:"skipped_roots"`
	Files         int                      `json:"files"`
	Edges         int                      `json:"edges"`
	Checks        jsonChecks               `json:"checks"`
	Cycles        *[]jsonCycle             `json:"cycles,omitempty"`
	Unused        *[]ast.Declaration       `json:"unused,omitempty"`
	Unresolved    []graph.UnresolvedImport `json:"unresolved_imports"`
	ParseFailures []string                 `json:"parse_failures"`
	BuildStats    graph.BuildStats         `json:"build_stats"`
	UsageStats    *usage.Stats             `json:"usage_stats,omitempty"`
}

type jsonChecks struct {
	Circular bool `json:"circular"`
	Unused   bool `json:"unused"`
}

type jsonCycle struct {
	Length int      `json:"length"`
	Path   []string `json:"path"`
}

// WriteJSON writes the machine-readable report.
//
// The output is indented and ends with a newline. Lists are never null.
func WriteJSON(w io.Writer, r *Report) error {
	if r == nil {
		return fmt.Errorf("report must not be nil")
	}

	out := jsonReport{
		SchemaVersion: SchemaVersion,
		RunID:         r.RunID,
		ProjectRoot:   r.ProjectRoot,
		Roots:         nonNil(r.Roots),
		SkippedRoots:  nonNil(r.SkippedRoots),
		Files:         r.FileCount(),
		Checks:        jsonChecks{Circular: r.CycleCheck, Unused: r.UnusedCheck},
		Unresolved:    r.Unresolved,
		ParseFailures: nonNil(r.ParseFailures),
		BuildStats:    r.BuildStats,
	}
	if r.Graph != nil {
		out.Edges = r.Graph.EdgeCount()
	}
	if out.Unresolved == nil {
		out.Unresolved = []graph.UnresolvedImport{}
	}
	if r.CycleCheck {
		cycles := make([]jsonCycle, 0, len(r.Cycles))
		for _, c := range r.Cycles {
			cycles = append(cycles, jsonCycle{Length: c.Len(), Path: c})
		}
		out.Cycles = &cycles
	}
	if r.UnusedCheck {
		unused := r.Unused
		if unused == nil {
			unused = []ast.Declaration{}
		}
		out.Unused = &unused
		stats := r.UsageStats
		out.UsageStats = &stats
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON report: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
