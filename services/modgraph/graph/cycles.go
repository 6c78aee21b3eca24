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
	"strings"
)

// NodeState is the traversal state of a node during cycle detection.
type NodeState int

const (
	// NodeUnvisited nodes have not been reached yet.
	NodeUnvisited NodeState = iota

	// NodeInProgress nodes are on the current DFS path.
	NodeInProgress

	// NodeDone nodes are fully explored and never entered again.
	NodeDone
)

// String returns the state name.
func (s NodeState) String() string {
	switch s {
	case NodeUnvisited:
		return "unvisited"
	case NodeInProgress:
		return "in_progress"
	case NodeDone:
		return "done"
	default:
		return "unknown"
	}
}

// Cycle is a closed walk through the import graph.
//
// The first and last elements are the same node, e.g. [a, b, a].
type Cycle []string

// Len returns the number of distinct nodes on the cycle.
func (c Cycle) Len() int {
	if len(c) == 0 {
		return 0
	}
	return len(c) - 1
}

// String renders the cycle as "a -> b -> a".
func (c Cycle) String() string {
	return strings.Join(c, " -> ")
}

// Edges returns the consecutive edges of the walk.
func (c Cycle) Edges() []Edge {
	if len(c) < 2 {
		return nil
	}
	edges := make([]Edge, 0, len(c)-1)
	for i := 0; i+1 < len(c); i++ {
		edges = append(edges, Edge{From: c[i], To: c[i+1]})
	}
	return edges
}

// Equal reports positional equality. Rotations of the same cycle are not equal.
func (c Cycle) Equal(other Cycle) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// dfsFrame is one entry of the explicit DFS stack.
type dfsFrame struct {
	node string
	deps []string
	next int
}

// DetectCycles finds import cycles with an explicit-stack depth-first search.
//
// Description:
//
//	Roots are taken in node order. From each unvisited root the search
//	follows dependencies in edge order, marking nodes InProgress while they
//	are on the current path and Done once all their dependencies have been
//	explored. An edge to an InProgress node closes a cycle: the path slice
//	from that node's position through the current node, followed by the
//	node again. Done nodes are never re-entered, so each edge is examined
//	once.
//
//	A cycle is recorded unless a previously recorded cycle of the same
//	length is positionally identical. Rotations of one cycle reached through
//	different entry points are recorded separately.
//
// Inputs:
//
//	g - The graph to search. May be empty.
//
// Outputs:
//
//	[]Cycle - Cycles in discovery order. Empty, never nil, for acyclic graphs.
//
// Complexity:
//
//	O(V + E) traversal plus O(C*L) for duplicate checks.
//
// Thread Safety:
//
//	Safe for concurrent use on frozen graphs.
func DetectCycles(g *ModuleGraph) []Cycle {
	cycles := make([]Cycle, 0)
	if g == nil {
		return cycles
	}

	state := make(map[string]NodeState, g.NodeCount())

	for _, root := range g.nodes {
		if state[root] != NodeUnvisited {
			continue
		}

		state[root] = NodeInProgress
		stack := []dfsFrame{{node: root, deps: g.deps[root]}}
		path := []string{root}
		position := map[string]int{root: 0}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if top.next >= len(top.deps) {
				state[top.node] = NodeDone
				delete(position, top.node)
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
				continue
			}

			dep := top.deps[top.next]
			top.next++

			switch state[dep] {
			case NodeInProgress:
				start := position[dep]
				cycle := make(Cycle, 0, len(path)-start+1)
				cycle = append(cycle, path[start:]...)
				cycle = append(cycle, dep)
				if !containsCycle(cycles, cycle) {
					cycles = append(cycles, cycle)
				}
			case NodeUnvisited:
				state[dep] = NodeInProgress
				position[dep] = len(path)
				path = append(path, dep)
				stack = append(stack, dfsFrame{node: dep, deps: g.deps[dep]})
			}
		}
	}

	recordCycleMetrics(len(cycles))
	return cycles
}

func containsCycle(cycles []Cycle, candidate Cycle) bool {
	for _, c := range cycles {
		if c.Equal(candidate) {
			return true
		}
	}
	return false
}

// CycleEdges returns the set of edges that lie on any of the cycles.
func CycleEdges(cycles []Cycle) map[Edge]struct{} {
	set := make(map[Edge]struct{})
	for _, c := range cycles {
		for _, e := range c.Edges() {
			set[e] = struct{}{}
		}
	}
	return set
}

// CycleNodes returns the set of nodes that lie on any of the cycles.
func CycleNodes(cycles []Cycle) map[string]struct{} {
	set := make(map[string]struct{})
	for _, c := range cycles {
		for _, n := range c {
			set[n] = struct{}{}
		}
	}
	return set
}
