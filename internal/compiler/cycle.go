package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/catalog/internal/registry"
)

// CycleWarning represents a cycle in the parent -> child relation graph.
//
// Cycles are warnings, not errors: stub expansion during sync is bounded by
// a visited set and a maximum depth, and selection trees are finite.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["Category", "Category"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeCycles finds cycles in the relation graph of reg.
//
// The algorithm:
//  1. Build entity -> child entity graph from every declared relation
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// A DAG returns an empty warning list.
func AnalyzeCycles(reg *registry.Registry) []CycleWarning {
	graph := buildRelationGraph(reg)
	if len(graph) == 0 {
		return []CycleWarning{}
	}

	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	sort.Slice(warnings, func(i, j int) bool {
		return strings.Join(warnings[i].Path, ",") < strings.Join(warnings[j].Path, ",")
	})
	return warnings
}

// relationGraph maps entity type -> child entity types.
type relationGraph map[string][]string

func buildRelationGraph(reg *registry.Registry) relationGraph {
	graph := make(relationGraph)
	for _, ent := range reg.Entities() {
		graph[ent.Name] = []string{}
	}
	for _, rel := range reg.AllRelations() {
		graph[rel.Parent] = append(graph[rel.Parent], rel.Child)
		if graph[rel.Child] == nil {
			graph[rel.Child] = []string{}
		}
	}
	for node := range graph {
		sort.Strings(graph[node])
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph relationGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph relationGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit nodes in sorted order so warnings are stable.
	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func cycleSCCToWarning(scc []string, graph relationGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-referencing relation: %s → %s", name, name),
			Level:   "warning",
		}
	}

	sorted := append([]string(nil), scc...)
	sort.Strings(sorted)
	path := reconstructCyclePath(sorted, graph)

	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Relation cycle: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph relationGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
