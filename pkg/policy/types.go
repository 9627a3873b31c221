package policy

import (
	"time"

	"github.com/quarrybuild/quarry/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// fail a check.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that fail a check.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations at this severity fail a check.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a single named rule with its Rego source.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`
}

// Violation is one finding produced by a policy against one target.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Target is the build label of the offending target.
	Target string `json:"target,omitempty"`

	// Message is a human-readable description of the finding.
	Message string `json:"message"`

	// Severity is the finding's severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating the loaded policies.
type Result struct {
	// Allowed is false when any violation is at a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations lists all findings, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// Evaluated lists the names of the policies that ran.
	Evaluated []string `json:"evaluated"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the subset of violations that fail the check.
func (r *Result) Blocking() []Violation {
	var blocking []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			blocking = append(blocking, v)
		}
	}
	return blocking
}

// Input is the document a policy is evaluated against: one declared target
// plus derived context. Field names follow the target's JSON encoding, so
// Rego rules address e.g. input.target.licences and input.target.test_timeout.
type Input struct {
	// Target is the declared target under evaluation.
	Target *engine.Target `json:"target"`

	// Kind classifies the target: build, binary, test or filegroup.
	Kind string `json:"kind"`

	// Package is the target's package path.
	Package string `json:"package"`
}
