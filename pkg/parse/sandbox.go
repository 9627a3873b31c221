package parse

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

// allowedBuiltins is the fixed allowlist of universal Starlark builtins that
// remain visible to BUILD files. Everything else is stripped from the
// universe at process startup, so using a removed builtin reads exactly like
// a typo: "undefined: name". The list is deliberately agricultural - value
// construction, container types, iteration helpers and fail() for raising
// domain errors.
var allowedBuiltins = map[string]bool{
	"None": true, "True": true, "False": true,
	"abs": true, "all": true, "any": true, "bool": true, "bytes": true,
	"chr": true, "dict": true, "dir": true, "enumerate": true, "fail": true,
	"float": true, "getattr": true, "hasattr": true, "hash": true,
	"int": true, "len": true, "list": true, "max": true, "min": true,
	"ord": true, "range": true, "repr": true, "reversed": true, "set": true,
	"sorted": true, "str": true, "tuple": true, "type": true, "zip": true,
}

var (
	sandboxOnce sync.Once
	sandboxDone atomic.Bool
)

// initializeSandbox configures the process-wide Starlark dialect and strips
// the universe down to the allowlist. The mutations are global and must
// happen exactly once, strictly before any concurrent evaluation starts; a
// second call is an error.
func initializeSandbox() error {
	if !sandboxDone.CompareAndSwap(false, true) {
		return fmt.Errorf("sandbox already initialized; re-entrant initialization is not allowed")
	}
	// BUILD files use if/for and reassignment at the top level, and the set
	// builtin from the allowlist.
	resolve.AllowGlobalReassign = true
	resolve.AllowSet = true
	for name := range starlark.Universe {
		if !allowedBuiltins[name] {
			delete(starlark.Universe, name)
		}
	}
	return nil
}

// ensureSandbox performs the one-time sandbox initialization on first use.
func ensureSandbox() {
	sandboxOnce.Do(func() {
		// The error path only triggers if initializeSandbox was already
		// called directly, in which case the universe is pruned anyway.
		_ = initializeSandbox()
	})
}

// primitiveNames are the names every package environment predeclares, over
// and above the pruned universe and any snippet-defined rules.
var primitiveNames = map[string]bool{
	"CONFIG":           true,
	"build_rule":       true,
	"filegroup":        true,
	"subinclude":       true,
	"include_defs":     true,
	"glob":             true,
	"package":          true,
	"licenses":         true,
	"get_base_path":    true,
	"get_labels":       true,
	"has_label":        true,
	"add_dep":          true,
	"add_exported_dep": true,
	"add_out":          true,
	"add_licence":      true,
	"set_command":      true,
	"join_path":        true,
	"split_path":       true,
	"splitext":         true,
	"basename":         true,
	"dirname":          true,
	"log":              true,
}

// snippet is one internally-generated code unit loaded through ParseCode.
// The compiled program is re-executed into every new package environment so
// the definitions it makes are rebound per file, never shared.
type snippet struct {
	prog  *starlark.Program
	label string
}

// template is the shared basis from which package environments are cloned:
// the global configuration store seeded by the host, plus the ordered
// snippets whose definitions every package sees.
type template struct {
	mu       sync.RWMutex
	config   *ConfigStore
	snippets []snippet
	names    map[string]bool
}

func newTemplate() *template {
	return &template{
		config: NewConfigStore(),
		names:  make(map[string]bool),
	}
}

// addSnippet appends a compiled snippet and records its exported names.
func (t *template) addSnippet(prog *starlark.Program, label string, names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snippets = append(t.snippets, snippet{prog: prog, label: label})
	for _, name := range names {
		t.names[name] = true
	}
}

// hasName reports whether a name was exported by any loaded snippet.
func (t *template) hasName(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.names[name]
}

// snapshot returns the snippets loaded so far, in load order.
func (t *template) snapshot() []snippet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]snippet, len(t.snippets))
	copy(out, t.snippets)
	return out
}
