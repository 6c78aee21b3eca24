// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds the file-level import graph and finds import cycles.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNodeNotFound indicates an edge endpoint that is not a graph node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrGraphFrozen indicates a mutation after Freeze.
	ErrGraphFrozen = errors.New("graph is frozen")
)

// Edge is a directed import dependency between two files.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ModuleGraph is a directed graph of source files.
//
// Description:
//
//	Nodes are project-relative file paths, kept sorted. Each node has an
//	ordered, duplicate-free list of dependencies: edge order is the order in
//	which the imports first appear in the importing file. Every node has an
//	adjacency entry, possibly empty, and every edge target is a node.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Safe for concurrent reads after Freeze.
type ModuleGraph struct {
	// ProjectRoot is the absolute path the node paths are relative to.
	ProjectRoot string

	// BuiltAtMilli is when the graph was frozen (Unix milliseconds UTC).
	BuiltAtMilli int64

	nodes     []string
	index     map[string]int
	deps      map[string][]string
	depSet    map[string]map[string]struct{}
	exports   map[string][]string
	edgeCount int
	frozen    bool
}

// NewModuleGraph creates a graph with the given nodes and no edges.
// Duplicate paths are collapsed and nodes are sorted.
func NewModuleGraph(projectRoot string, nodes []string) *ModuleGraph {
	sorted := make([]string, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	g := &ModuleGraph{
		ProjectRoot: projectRoot,
		nodes:       sorted,
		index:       make(map[string]int, len(sorted)),
		deps:        make(map[string][]string, len(sorted)),
		depSet:      make(map[string]map[string]struct{}, len(sorted)),
		exports:     make(map[string][]string, len(sorted)),
	}
	for i, n := range sorted {
		g.index[n] = i
		g.deps[n] = []string{}
		g.depSet[n] = make(map[string]struct{})
	}
	return g
}

// AddEdge appends to to the dependencies of from.
//
// Outputs:
//
//	bool - True if the edge is new, false if it already existed.
//	error - ErrNodeNotFound if an endpoint is unknown, ErrGraphFrozen after Freeze.
func (g *ModuleGraph) AddEdge(from, to string) (bool, error) {
	if g.frozen {
		return false, ErrGraphFrozen
	}
	if _, ok := g.index[from]; !ok {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	if _, ok := g.index[to]; !ok {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	if _, dup := g.depSet[from][to]; dup {
		return false, nil
	}
	g.depSet[from][to] = struct{}{}
	g.deps[from] = append(g.deps[from], to)
	g.edgeCount++
	return true, nil
}

// SetExports records the exported names of a node.
func (g *ModuleGraph) SetExports(node string, names []string) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if _, ok := g.index[node]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, node)
	}
	g.exports[node] = append([]string(nil), names...)
	return nil
}

// Freeze makes the graph read-only.
func (g *ModuleGraph) Freeze() {
	g.frozen = true
}

// IsFrozen reports whether Freeze has been called.
func (g *ModuleGraph) IsFrozen() bool {
	return g.frozen
}

// Nodes returns the sorted node paths.
func (g *ModuleGraph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// HasNode reports whether path is a node.
func (g *ModuleGraph) HasNode(path string) bool {
	_, ok := g.index[path]
	return ok
}

// Dependencies returns the ordered dependencies of node, nil if unknown.
func (g *ModuleGraph) Dependencies(node string) []string {
	deps, ok := g.deps[node]
	if !ok {
		return nil
	}
	return append([]string{}, deps...)
}

// Exports returns the exported names recorded for node.
func (g *ModuleGraph) Exports(node string) []string {
	return append([]string(nil), g.exports[node]...)
}

// NodeCount returns the number of nodes.
func (g *ModuleGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *ModuleGraph) EdgeCount() int {
	return g.edgeCount
}

// Edges returns all edges, grouped by source in node order and in
// dependency order within a source.
func (g *ModuleGraph) Edges() []Edge {
	edges := make([]Edge, 0, g.edgeCount)
	for _, from := range g.nodes {
		for _, to := range g.deps[from] {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

// Hash returns a deterministic hash of the graph structure.
//
// Two graphs with the same nodes and the same ordered adjacency lists have
// the same hash regardless of ProjectRoot or build time.
func (g *ModuleGraph) Hash() string {
	h := sha256.New()
	for _, n := range g.nodes {
		h.Write([]byte(n))
		h.Write([]byte{0})
		for _, d := range g.deps[n] {
			h.Write([]byte(d))
			h.Write([]byte{1})
		}
		h.Write([]byte{2})
	}
	return hex.EncodeToString(h.Sum(nil))
}
