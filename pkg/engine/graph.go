package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Graph is the concurrent in-memory target graph: every parsed package and
// every declared target, addressable by label. All methods are safe for
// concurrent use; file evaluations on different goroutines mutate disjoint
// packages but share the graph maps.
type Graph struct {
	mu       sync.RWMutex
	packages map[string]*Package
	targets  map[string]*Target
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		packages: make(map[string]*Package),
		targets:  make(map[string]*Target),
	}
}

// Commit registers a fully parsed package and indexes its targets, moving
// them to the parsed state. Until a package is committed none of its targets
// are addressable by label, so an aborted or deferred parse leaves no trace
// in the graph. Committing the same package name twice is an error.
func (g *Graph) Commit(pkg *Package) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.packages[pkg.Name]; exists {
		return fmt.Errorf("package //%s is already in the graph", pkg.Name)
	}
	g.packages[pkg.Name] = pkg
	for _, t := range pkg.TargetsInOrder() {
		g.targets[t.Label.Key()] = t
		t.SetState(StateParsed)
	}
	return nil
}

// Evict removes a package and its targets from the graph so the package can
// be parsed again, e.g. after its BUILD file changed on disk.
func (g *Graph) Evict(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pkg, ok := g.packages[name]
	if !ok {
		return
	}
	delete(g.packages, name)
	for _, t := range pkg.TargetsInOrder() {
		delete(g.targets, t.Label.Key())
	}
}

// Package returns the named package, or nil if it has not been committed.
func (g *Graph) Package(name string) *Package {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.packages[name]
}

// Target returns the target addressed by label, or nil.
func (g *Graph) Target(label Label) *Target {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.targets[label.Key()]
}

// TargetByKey returns the target addressed by a package:name key, or nil.
func (g *Graph) TargetByKey(key string) *Target {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.targets[key]
}

// Len returns the number of targets in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.targets)
}

// PackageNames returns the names of all registered packages, sorted.
func (g *Graph) PackageNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.packages))
	for name := range g.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Targets returns all targets in the graph, sorted by label.
func (g *Graph) Targets() []*Target {
	g.mu.RLock()
	targets := make([]*Target, 0, len(g.targets))
	for _, t := range g.targets {
		targets = append(targets, t)
	}
	g.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Label.String() < targets[j].Label.String()
	})
	return targets
}

// TransitiveLabels collects the labels of a target and its whole dependency
// closure that start with prefix, with the prefix stripped, deduplicated and
// sorted. Dependencies that are not in the graph yet are skipped.
func (g *Graph) TransitiveLabels(t *Target, prefix string) []string {
	seen := make(map[string]bool)
	visited := make(map[string]bool)

	var walk func(t *Target)
	walk = func(t *Target) {
		if visited[t.Label.Key()] {
			return
		}
		visited[t.Label.Key()] = true
		for _, label := range t.AllLabels() {
			if len(label) >= len(prefix) && label[:len(prefix)] == prefix {
				seen[label[len(prefix):]] = true
			}
		}
		for _, dep := range t.AllDeps() {
			label, err := ParseLabel(dep, t.Label.Package)
			if err != nil {
				continue
			}
			if depTarget := g.Target(label); depTarget != nil {
				walk(depTarget)
			}
		}
	}
	walk(t)

	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
