package engine

import (
	"fmt"
	"path"
	"strings"
)

// AllTargets is the reserved pseudo-target name addressing every target in a
// package. No real target may use it.
const AllTargets = "all"

// VisibilityPublic makes a target visible to every package.
const VisibilityPublic = "PUBLIC"

// Label identifies a single target in the graph as //package:name.
type Label struct {
	// Package is the package path relative to the repo root, without any
	// leading slashes. Empty for the root package.
	Package string `json:"package"`

	// Name is the target name, unique within its package.
	Name string `json:"name"`
}

// ParseLabel parses a build label relative to the current package.
// Accepted forms: //pkg:name, //pkg (name defaults to the last path
// component), //:name, and :name for targets in the current package.
func ParseLabel(s, currentPkg string) (Label, error) {
	switch {
	case strings.HasPrefix(s, "//"):
		rest := s[2:]
		if pkg, name, found := strings.Cut(rest, ":"); found {
			return makeLabel(pkg, name, s)
		}
		// //src/core is shorthand for //src/core:core.
		if rest == "" {
			return Label{}, fmt.Errorf("invalid build label %q", s)
		}
		return makeLabel(rest, path.Base(rest), s)
	case strings.HasPrefix(s, ":"):
		return makeLabel(currentPkg, s[1:], s)
	default:
		return Label{}, fmt.Errorf("invalid build label %q; labels must start with // or :", s)
	}
}

// makeLabel validates the parsed components.
func makeLabel(pkg, name, original string) (Label, error) {
	if name == "" {
		return Label{}, fmt.Errorf("invalid build label %q; empty target name", original)
	}
	if name != AllTargets && strings.ContainsAny(name, "/:") {
		return Label{}, fmt.Errorf("invalid build label %q; target names may not contain / or :", original)
	}
	if strings.HasPrefix(pkg, "/") || strings.HasSuffix(pkg, "/") {
		return Label{}, fmt.Errorf("invalid build label %q; package path may not begin or end with /", original)
	}
	return Label{Package: pkg, Name: name}, nil
}

// String renders the label in canonical //package:name form.
func (l Label) String() string {
	return "//" + l.Package + ":" + l.Name
}

// IsAll reports whether the label addresses all targets in its package.
func (l Label) IsAll() bool {
	return l.Name == AllTargets
}

// Key returns the map key for the label, package:name. Callback handles and
// the evaluator's registry use the same form.
func (l Label) Key() string {
	return l.Package + ":" + l.Name
}

// visibilityMatches reports whether a single visibility entry grants the
// given package access. Entries are PUBLIC, //pkg/... subtree patterns, or
// ordinary labels whose package component is what matters.
func visibilityMatches(entry, pkg string) bool {
	if entry == VisibilityPublic {
		return true
	}
	if strings.HasSuffix(entry, "/...") {
		prefix := strings.TrimLeft(strings.TrimSuffix(entry, "/..."), "/")
		return pkg == prefix || strings.HasPrefix(pkg, prefix+"/")
	}
	label, err := ParseLabel(entry, "")
	if err != nil {
		return false
	}
	return label.Package == pkg
}
