package stores

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quarrybuild/quarry/pkg/engine"
)

// RunStatus is the recorded outcome of a parse run.
type RunStatus string

const (
	// RunStatusOK means every requested package parsed.
	RunStatusOK RunStatus = "ok"

	// RunStatusFailed means at least one package failed or deferred forever.
	RunStatusFailed RunStatus = "failed"
)

// Run is one recorded parse session.
type Run struct {
	// ID is the session ID.
	ID string

	// Root is the source tree the session parsed.
	Root string

	// Status is the session outcome.
	Status RunStatus

	// Packages, Targets and Rounds mirror the session report.
	Packages int
	Targets  int
	Rounds   int

	// Duration is the wall-clock session time.
	Duration time.Duration

	// Error summarizes per-package failures, nil for a clean run.
	Error *string

	// CreatedAt is when the run was recorded.
	CreatedAt time.Time
}

// NewRun builds a Run record from a session report.
func NewRun(report *engine.Report, root string) *Run {
	run := &Run{
		ID:       report.SessionID,
		Root:     root,
		Status:   RunStatusOK,
		Packages: report.Packages,
		Targets:  report.Targets,
		Rounds:   report.Rounds,
		Duration: report.Duration,
	}
	if !report.OK() {
		run.Status = RunStatusFailed
		packages := make([]string, 0, len(report.Failures))
		for pkg := range report.Failures {
			packages = append(packages, pkg)
		}
		sort.Strings(packages)
		var parts []string
		for _, pkg := range packages {
			parts = append(parts, fmt.Sprintf("//%s: %v", pkg, report.Failures[pkg]))
		}
		msg := strings.Join(parts, "; ")
		run.Error = &msg
	}
	return run
}

// PackageRow is one recorded package of a run.
type PackageRow struct {
	RunID    string
	Name     string
	Filename string

	// Subincludes is a JSON array of subincluded labels.
	Subincludes string
}

// TargetRow is one recorded target of a run. A few fields are broken out
// into columns for querying; Data holds the full target record as JSON.
type TargetRow struct {
	RunID    string
	Package  string
	Name     string
	Kind     string
	Binary   bool
	Test     bool
	TestOnly bool
	Command  string
	Data     string
}

// Label returns the row's build label.
func (r *TargetRow) Label() engine.Label {
	return engine.Label{Package: r.Package, Name: r.Name}
}

// Decode unmarshals the full target record.
func (r *TargetRow) Decode() (*engine.Target, error) {
	var target engine.Target
	if err := json.Unmarshal([]byte(r.Data), &target); err != nil {
		return nil, fmt.Errorf("failed to decode target %s: %w", r.Label(), err)
	}
	return &target, nil
}

// newTargetRow flattens a graph target for storage.
func newTargetRow(runID string, t *engine.Target) (*TargetRow, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode target %s: %w", t.Label, err)
	}
	return &TargetRow{
		RunID:    runID,
		Package:  t.Label.Package,
		Name:     t.Label.Name,
		Kind:     t.Kind(),
		Binary:   t.Binary,
		Test:     t.Test,
		TestOnly: t.TestOnly,
		Command:  t.Command,
		Data:     string(data),
	}, nil
}

// newPackageRow flattens a graph package for storage.
func newPackageRow(runID string, pkg *engine.Package) (*PackageRow, error) {
	subincludes, err := json.Marshal(pkg.Subincludes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subincludes of //%s: %w", pkg.Name, err)
	}
	return &PackageRow{
		RunID:       runID,
		Name:        pkg.Name,
		Filename:    pkg.Filename,
		Subincludes: string(subincludes),
	}, nil
}
