package engine

import (
	"sync"

	"github.com/quarrybuild/quarry/pkg/bridge"
)

// TargetState tracks how far through the parse lifecycle a target is.
type TargetState int

const (
	// StateDeclared means the target exists but its package is still parsing.
	StateDeclared TargetState = iota

	// StateParsed means the declaring package finished parsing.
	StateParsed

	// StateBuilding means the target's pre-build callback is running; the
	// only window in which get_labels is valid for it.
	StateBuilding

	// StateReady means the target's outputs may be subincluded.
	StateReady
)

// String returns a short name for the state.
func (s TargetState) String() string {
	switch s {
	case StateDeclared:
		return "declared"
	case StateParsed:
		return "parsed"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Target is the host-side record of one declared build target. The scalar
// fields come from the creation spec; the list-valued fields are attached
// one value at a time afterwards.
type Target struct {
	// Label identifies the target in the graph.
	Label Label `json:"label"`

	// Command is the default build command; Commands holds per-configuration
	// variants. A filegroup has neither.
	Command  string            `json:"command,omitempty"`
	Commands map[string]string `json:"commands,omitempty"`

	// TestCommand and TestCommands mirror the build commands for tests.
	TestCommand  string            `json:"test_command,omitempty"`
	TestCommands map[string]string `json:"test_commands,omitempty"`

	// Flags from the creation spec.
	Binary              bool `json:"binary,omitempty"`
	Test                bool `json:"test,omitempty"`
	NeedsTransitiveDeps bool `json:"needs_transitive_deps,omitempty"`
	OutputIsComplete    bool `json:"output_is_complete,omitempty"`
	Container           bool `json:"container,omitempty"`
	NoTestOutput        bool `json:"no_test_output,omitempty"`
	TestOnly            bool `json:"test_only,omitempty"`

	// Flaky is the rerun count for flaky tests; zero means not flaky.
	Flaky int `json:"flaky,omitempty"`

	// Timeouts are in seconds; zero means the host default.
	BuildTimeout int `json:"build_timeout,omitempty"`
	TestTimeout  int `json:"test_timeout,omitempty"`

	// BuildingDescription is shown while the target builds.
	BuildingDescription string `json:"building_description,omitempty"`

	// Sources and NamedSources are the target's inputs.
	Sources      []string            `json:"srcs,omitempty"`
	NamedSources map[string][]string `json:"named_srcs,omitempty"`

	// Data lists runtime data files the target needs when it runs.
	Data []string `json:"data,omitempty"`

	// Deps, ExportedDeps and Tools are dependency labels as declared; they
	// are resolved against the graph on demand.
	Deps         []string `json:"deps,omitempty"`
	ExportedDeps []string `json:"exported_deps,omitempty"`
	Tools        []string `json:"tools,omitempty"`

	// Outputs and OptionalOutputs are the declared output files.
	Outputs         []string `json:"outs,omitempty"`
	OptionalOutputs []string `json:"optional_outs,omitempty"`

	// Visibility, Labels, Hashes, Licences, TestOutputs and Requires are the
	// remaining attached lists.
	Visibility  []string `json:"visibility,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Hashes      []string `json:"hashes,omitempty"`
	Licences    []string `json:"licences,omitempty"`
	TestOutputs []string `json:"test_outputs,omitempty"`
	Requires    []string `json:"requires,omitempty"`

	// Provides maps a capability name to the alternate dependency that
	// dependents requiring that capability should use.
	Provides map[string]string `json:"provides,omitempty"`

	// PreBuild and PostBuild are registered callback handles, empty when the
	// target has none.
	PreBuild  bridge.CallbackHandle `json:"pre_build,omitempty"`
	PostBuild bridge.CallbackHandle `json:"post_build,omitempty"`

	mu    sync.Mutex
	state TargetState
}

// newTarget builds a Target from a creation spec.
func newTarget(label Label, spec bridge.TargetSpec) *Target {
	return &Target{
		Label:               label,
		Command:             spec.Command,
		TestCommand:         spec.TestCommand,
		Binary:              spec.Binary,
		Test:                spec.Test,
		NeedsTransitiveDeps: spec.NeedsTransitiveDeps,
		OutputIsComplete:    spec.OutputIsComplete,
		Container:           spec.Container,
		NoTestOutput:        spec.NoTestOutput,
		TestOnly:            spec.TestOnly,
		Flaky:               spec.Flaky,
		BuildTimeout:        spec.BuildTimeout,
		TestTimeout:         spec.TestTimeout,
		BuildingDescription: spec.BuildingDescription,
	}
}

// State returns the target's current lifecycle state.
func (t *Target) State() TargetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState moves the target to a new lifecycle state.
func (t *Target) SetState(s TargetState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Kind classifies the target for metrics and policy purposes.
func (t *Target) Kind() string {
	switch {
	case t.Test:
		return "test"
	case t.Binary:
		return "binary"
	case t.Command == "" && len(t.Commands) == 0:
		return "filegroup"
	default:
		return "build"
	}
}

// IsVisibleTo reports whether a target in pkg may depend on or subinclude
// this target. Targets with no visibility are private to their own package.
func (t *Target) IsVisibleTo(pkg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pkg == t.Label.Package {
		return true
	}
	for _, entry := range t.Visibility {
		if visibilityMatches(entry, pkg) {
			return true
		}
	}
	return false
}

// DeclaredOutputs returns a copy of the target's output list.
func (t *Target) DeclaredOutputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	outs := make([]string, len(t.Outputs))
	copy(outs, t.Outputs)
	return outs
}

// AllLabels returns a copy of the target's own label list.
func (t *Target) AllLabels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	labels := make([]string, len(t.Labels))
	copy(labels, t.Labels)
	return labels
}

// AllDeps returns the target's declared dependency labels, including
// exported dependencies.
func (t *Target) AllDeps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	deps := make([]string, 0, len(t.Deps)+len(t.ExportedDeps))
	deps = append(deps, t.Deps...)
	deps = append(deps, t.ExportedDeps...)
	return deps
}

// Package is the host-side record of one BUILD file and the targets it
// declared.
type Package struct {
	// Name is the package path relative to the repo root.
	Name string `json:"name"`

	// Filename is the BUILD file that defines the package.
	Filename string `json:"filename"`

	// Targets maps target names to their records, in declaration order via
	// Order.
	Targets map[string]*Target `json:"targets"`

	// Order lists target names in the order they were declared.
	Order []string `json:"order"`

	// Subincludes records the labels this package subincluded, for
	// dependency reporting.
	Subincludes []Label `json:"subincludes,omitempty"`

	mu sync.Mutex
}

// NewPackage creates an empty package record.
func NewPackage(name, filename string) *Package {
	return &Package{
		Name:     name,
		Filename: filename,
		Targets:  make(map[string]*Target),
	}
}

// Target returns the named target, or nil.
func (p *Package) Target(name string) *Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Targets[name]
}

// addTarget registers a target, returning false if the name is taken.
func (p *Package) addTarget(t *Target) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.Targets[t.Label.Name]; exists {
		return false
	}
	p.Targets[t.Label.Name] = t
	p.Order = append(p.Order, t.Label.Name)
	return true
}

// registerSubinclude records a resolved subinclude dependency.
func (p *Package) registerSubinclude(label Label) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.Subincludes {
		if existing == label {
			return
		}
	}
	p.Subincludes = append(p.Subincludes, label)
}

// TargetsInOrder returns the package's targets in declaration order.
func (p *Package) TargetsInOrder() []*Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	targets := make([]*Target, 0, len(p.Order))
	for _, name := range p.Order {
		targets = append(targets, p.Targets[name])
	}
	return targets
}
