package parse

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// directive is one top-level inclusion found by the pre-scan: either an
// include_defs or a subinclude with a literal target. The resolver runs
// these before the file body executes so the names they contribute are
// available when the body compiles.
type directive struct {
	subinclude bool
	target     string
	line       int
}

// compiledFile is one parse cache entry: the compiled program plus the
// inclusion directives found in it.
type compiledFile struct {
	prog       *starlark.Program
	directives []directive
}

// Cache memoizes compiled representations of BUILD files keyed by path.
// Compiled programs are reused verbatim across packages; isolation is
// reestablished per execution by the package environment, not by
// recompiling. Two evaluations racing to insert the same path is safe:
// last writer wins and the representations are equivalent.
type Cache struct {
	mu    sync.RWMutex
	files map[string]*compiledFile
}

// NewCache creates an empty parse cache.
func NewCache() *Cache {
	return &Cache{files: make(map[string]*compiledFile)}
}

// Get returns the cached entry for a path, if present.
func (c *Cache) Get(path string) (*compiledFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.files[path]
	return f, ok
}

// Put stores a compiled entry for a path.
func (c *Cache) Put(path string, f *compiledFile) {
	c.mu.Lock()
	c.files[path] = f
	c.mu.Unlock()
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// load returns the compiled representation of a file, compiling and caching
// it on first use. The pre-check for banned constructs runs before
// compilation and aborts with a descriptive line number. The second return
// reports a cache hit.
//
// The onDirectives hook, when non-nil, runs after the directive pre-scan and
// before the body compiles, so inclusions can contribute names the body
// resolves against. On a cache hit the hook does not run; the caller replays
// the cached entry's directives itself.
func (c *Cache) load(path string, isPredeclared func(string) bool, onDirectives func([]directive) error) (*compiledFile, bool, error) {
	if f, ok := c.Get(path); ok {
		return f, true, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, false, NewDomainError(fmt.Sprintf("cannot read %s", path), err)
	}
	f, err := c.compile(path, src, isPredeclared, onDirectives)
	return f, false, err
}

// compile parses, pre-checks and compiles source, then caches it under path.
func (c *Cache) compile(path string, src []byte, isPredeclared func(string) bool, onDirectives func([]directive) error) (*compiledFile, error) {
	// Compilation reads the process-global dialect flags.
	ensureSandbox()
	f, err := syntax.Parse(path, src, 0)
	if err != nil {
		return nil, NewSyntaxError(path, errorLine(err), errorMessage(err))
	}
	if err := checkBanned(path, f); err != nil {
		return nil, err
	}
	directives := scanDirectives(f)
	if onDirectives != nil {
		if err := onDirectives(directives); err != nil {
			return nil, err
		}
	}

	prog, err := starlark.FileProgram(f, isPredeclared)
	if err != nil {
		return nil, NewSyntaxError(path, errorLine(err), errorMessage(err))
	}

	entry := &compiledFile{prog: prog, directives: directives}
	c.Put(path, entry)
	return entry, nil
}

// checkBanned scans the top level of a file for constructs the sandbox
// rejects outright: load() statements and raw print calls.
func checkBanned(path string, f *syntax.File) error {
	for _, stmt := range f.Stmts {
		switch s := stmt.(type) {
		case *syntax.LoadStmt:
			start, _ := s.Span()
			return NewBannedConstructError(path, int(start.Line), "load() is not allowed in BUILD files, use subinclude() instead")
		case *syntax.ExprStmt:
			if name, ok := calleeName(s.X); ok && name == "print" {
				start, _ := s.Span()
				return NewBannedConstructError(path, int(start.Line), "print is not allowed, use the log functions instead")
			}
		}
	}
	return nil
}

// scanDirectives finds top-level subinclude/include_defs calls with literal
// string targets. Calls with computed targets are left to run with the body;
// their definitions cannot be referenced statically anyway.
func scanDirectives(f *syntax.File) []directive {
	var out []directive
	for _, stmt := range f.Stmts {
		expr, ok := stmt.(*syntax.ExprStmt)
		if !ok {
			continue
		}
		call, ok := expr.X.(*syntax.CallExpr)
		if !ok || len(call.Args) != 1 {
			continue
		}
		name, ok := calleeName(expr.X)
		if !ok || (name != "subinclude" && name != "include_defs") {
			continue
		}
		lit, ok := call.Args[0].(*syntax.Literal)
		if !ok || lit.Token != syntax.STRING {
			continue
		}
		target, ok := lit.Value.(string)
		if !ok {
			continue
		}
		start, _ := stmt.Span()
		out = append(out, directive{
			subinclude: name == "subinclude",
			target:     target,
			line:       int(start.Line),
		})
	}
	return out
}

// calleeName returns the identifier a call expression invokes, if simple.
func calleeName(e syntax.Expr) (string, bool) {
	call, ok := e.(*syntax.CallExpr)
	if !ok {
		return "", false
	}
	ident, ok := call.Fn.(*syntax.Ident)
	if !ok {
		return "", false
	}
	return ident.Name, true
}

// errorLine extracts a 1-based source line from a Starlark syntax or resolve
// error, or zero when none is available.
func errorLine(err error) int {
	var serr syntax.Error
	if errors.As(err, &serr) {
		return int(serr.Pos.Line)
	}
	var rlist resolve.ErrorList
	if errors.As(err, &rlist) && len(rlist) > 0 {
		return int(rlist[0].Pos.Line)
	}
	var rerr resolve.Error
	if errors.As(err, &rerr) {
		return int(rerr.Pos.Line)
	}
	return 0
}

// errorMessage extracts the bare message from a Starlark syntax or resolve
// error, dropping the duplicated position prefix.
func errorMessage(err error) string {
	var serr syntax.Error
	if errors.As(err, &serr) {
		return serr.Msg
	}
	var rlist resolve.ErrorList
	if errors.As(err, &rlist) && len(rlist) > 0 {
		return rlist[0].Msg
	}
	var rerr resolve.Error
	if errors.As(err, &rerr) {
		return rerr.Msg
	}
	return err.Error()
}
