// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/AleutianAI/modgraph/services/modgraph/graph"
)

const cycleColor = "red"

// WriteDOT writes the graph in Graphviz DOT format.
//
// Description:
//
//	One node per file: the ID is the project-relative path, the label its
//	base name. Files sharing a base name get the same label. Edges lying on
//	a cycle, and the nodes they connect, are drawn in red.
//
// Inputs:
//
//	w - Destination.
//	g - The module graph. Must not be nil.
//	cycles - Cycles to highlight. May be nil.
//
// Outputs:
//
//	error - Non-nil if g is nil or writing fails.
func WriteDOT(w io.Writer, g *graph.ModuleGraph, cycles []graph.Cycle) error {
	if g == nil {
		return fmt.Errorf("graph must not be nil")
	}

	cycleEdges := graph.CycleEdges(cycles)
	cycleNodes := graph.CycleNodes(cycles)

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph modules {")
	fmt.Fprintln(bw, "  rankdir=\"LR\";")
	fmt.Fprintln(bw, "  node [shape=box, style=\"rounded\", fontname=\"Helvetica\"];")

	for _, n := range g.Nodes() {
		attrs := []string{fmt.Sprintf("label=%s", quote(path.Base(n)))}
		if _, ok := cycleNodes[n]; ok {
			attrs = append(attrs, fmt.Sprintf("color=%q", cycleColor), "penwidth=2")
		}
		fmt.Fprintf(bw, "  %s [%s];\n", quote(n), strings.Join(attrs, ", "))
	}

	for _, e := range g.Edges() {
		if _, ok := cycleEdges[e]; ok {
			fmt.Fprintf(bw, "  %s -> %s [color=%q, penwidth=2];\n", quote(e.From), quote(e.To), cycleColor)
			continue
		}
		fmt.Fprintf(bw, "  %s -> %s;\n", quote(e.From), quote(e.To))
	}

	fmt.Fprintln(bw, "}")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing DOT: %w", err)
	}
	return nil
}

// quote returns s as a DOT double-quoted ID.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
