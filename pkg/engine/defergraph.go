package engine

import (
	"fmt"
	"sort"
	"strings"
)

// deferGraph records which packages are waiting on which others through
// subinclude deferrals. When a parse round makes no progress the scheduler
// asks it for the cycle to report instead of retrying forever.
type deferGraph struct {
	// edges maps a waiting package to the packages it deferred on.
	edges map[string]map[string]bool
}

func newDeferGraph() *deferGraph {
	return &deferGraph{edges: make(map[string]map[string]bool)}
}

// addEdge records that from's parse is waiting on to.
func (g *deferGraph) addEdge(from, to string) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]bool)
	}
	g.edges[from][to] = true
}

// waitingOn returns the packages a package is recorded as waiting on, sorted.
func (g *deferGraph) waitingOn(pkg string) []string {
	targets := make([]string, 0, len(g.edges[pkg]))
	for to := range g.edges[pkg] {
		targets = append(targets, to)
	}
	sort.Strings(targets)
	return targets
}

// findCycle runs a depth-first search over the deferral edges and returns
// the first cycle found as a package path ending where it began, or nil.
func (g *deferGraph) findCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	// Iterate in sorted order so the reported cycle is deterministic.
	roots := make([]string, 0, len(g.edges))
	for from := range g.edges {
		roots = append(roots, from)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if !visited[root] {
			if cycle := g.findCycleFrom(root, visited, recStack, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *deferGraph) findCycleFrom(node string, visited, recStack map[string]bool, path []string) []string {
	visited[node] = true
	recStack[node] = true
	path = append(path, node)

	for _, next := range g.waitingOn(node) {
		if !visited[next] {
			if cycle := g.findCycleFrom(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			// Found a cycle; cut the path back to where it closes.
			for i, pkg := range path {
				if pkg == next {
					return append(path[i:], next)
				}
			}
		}
	}

	recStack[node] = false
	return nil
}

// CycleError reports a set of packages whose subincludes wait on each other.
type CycleError struct {
	// Cycle is the package path, ending where it began.
	Cycle []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	labels := make([]string, len(e.Cycle))
	for i, pkg := range e.Cycle {
		labels[i] = "//" + pkg
	}
	return fmt.Sprintf("subinclude deferral cycle detected: %s", strings.Join(labels, " -> "))
}
