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
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a ModuleGraph.
//
// Description:
//
//	Nodes are sorted by path. Edges are grouped by source in node order and
//	keep dependency order within a source, so reconstruction reproduces the
//	exact adjacency lists cycle detection depends on.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// ProjectRoot is the absolute path to the project root directory.
	ProjectRoot string `json:"project_root"`

	// BuiltAtMilli is the Unix timestamp in milliseconds when the graph was frozen.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	Nodes []SerializableNode `json:"nodes"`
	Edges []Edge             `json:"edges"`
}

// SerializableNode is the JSON-serializable representation of a file node.
type SerializableNode struct {
	Path    string   `json:"path"`
	Exports []string `json:"exports,omitempty"`
}

// ToSerializable converts the graph to its JSON-serializable representation.
//
// Outputs:
//
//	*SerializableGraph - The serializable representation. Never nil.
//
// Thread Safety:
//
//	Safe for concurrent use on frozen graphs.
func (g *ModuleGraph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []SerializableNode{},
			Edges:         []Edge{},
		}
	}

	nodes := make([]SerializableNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, SerializableNode{
			Path:    n,
			Exports: g.Exports(n),
		})
	}

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		ProjectRoot:   g.ProjectRoot,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Nodes:         nodes,
		Edges:         g.Edges(),
	}
}

// FromSerializable reconstructs a frozen ModuleGraph.
//
// Description:
//
//	Reuses NewModuleGraph and AddEdge so the reconstructed graph satisfies
//	the same invariants as a built one. If the serialized hash is set it must
//	match the reconstructed structure.
//
// Outputs:
//
//	*ModuleGraph - The reconstructed graph in read-only state.
//	error - Non-nil if sg is nil, the schema is unsupported, an edge names an
//	        unknown node, or the hash does not match.
func FromSerializable(sg *SerializableGraph) (*ModuleGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	paths := make([]string, 0, len(sg.Nodes))
	for _, n := range sg.Nodes {
		paths = append(paths, n.Path)
	}
	g := NewModuleGraph(sg.ProjectRoot, paths)

	for _, n := range sg.Nodes {
		if err := g.SetExports(n.Path, n.Exports); err != nil {
			return nil, fmt.Errorf("restoring exports of %s: %w", n.Path, err)
		}
	}
	for i, e := range sg.Edges {
		if _, err := g.AddEdge(e.From, e.To); err != nil {
			return nil, fmt.Errorf("adding edge %d (%s -> %s): %w", i, e.From, e.To, err)
		}
	}

	g.Freeze()
	g.BuiltAtMilli = sg.BuiltAtMilli

	if sg.GraphHash != "" && sg.GraphHash != g.Hash() {
		return nil, fmt.Errorf("graph hash mismatch: expected %s, got %s", sg.GraphHash, g.Hash())
	}
	return g, nil
}
