package engine

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quarrybuild/quarry/pkg/bridge"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Host is the reference implementation of the evaluator-to-host bridge. It
// records targets into an in-memory Graph and answers file lookups against
// the source tree rooted at root.
//
// Package handles passed across the bridge are *Package values and target
// handles are *Target values; the evaluator treats both as opaque.
type Host struct {
	graph   *Graph
	root    string
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu        sync.Mutex
	deferrals map[string][]Label
}

// HostOptions configures a Host. Zero values are usable: a fresh graph and a
// no-op logger.
type HostOptions struct {
	Graph   *Graph
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// NewHost creates a reference host answering file lookups relative to root.
func NewHost(root string, opts HostOptions) *Host {
	graph := opts.Graph
	if graph == nil {
		graph = NewGraph()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Host{
		graph:     graph,
		root:      root,
		logger:    logger.NewComponentLogger("engine"),
		metrics:   opts.Metrics,
		deferrals: make(map[string][]Label),
	}
}

// Graph returns the host's target graph.
func (h *Host) Graph() *Graph {
	return h.graph
}

// Root returns the source tree root the host resolves files against.
func (h *Host) Root() string {
	return h.root
}

var _ bridge.Host = (*Host)(nil)

// packageOf unwraps a package handle.
func packageOf(handle bridge.PackageHandle) (*Package, error) {
	p, ok := handle.(*Package)
	if !ok || p == nil {
		return nil, fmt.Errorf("invalid package handle %v", handle)
	}
	return p, nil
}

// targetOf unwraps a target handle.
func targetOf(handle bridge.TargetHandle) (*Target, error) {
	t, ok := handle.(*Target)
	if !ok || t == nil {
		return nil, fmt.Errorf("invalid target handle %v", handle)
	}
	return t, nil
}

// getTargetPost resolves a target by name for the post-creation mutators.
func (h *Host) getTargetPost(pkg bridge.PackageHandle, name string) (*Target, error) {
	p, err := packageOf(pkg)
	if err != nil {
		return nil, err
	}
	t := p.Target(name)
	if t == nil {
		return nil, fmt.Errorf("no such target %s in package //%s", name, p.Name)
	}
	return t, nil
}

// CreateTarget adds a new target to the package. A duplicate name yields a
// nil handle per the bridge contract; the evaluator turns that into a
// duplicate-target error.
func (h *Host) CreateTarget(pkg bridge.PackageHandle, spec bridge.TargetSpec) (bridge.TargetHandle, error) {
	p, err := packageOf(pkg)
	if err != nil {
		return nil, err
	}
	t := newTarget(Label{Package: p.Name, Name: spec.Name}, spec)
	if !p.addTarget(t) {
		return nil, nil
	}
	if h.metrics != nil {
		h.metrics.RecordTargetCreated(t.Kind())
	}
	h.logger.WithPackage(p.Name).WithTarget(t.Label.String()).Debug("Target created")
	return t, nil
}

func (h *Host) AddSource(target bridge.TargetHandle, source string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Sources = append(t.Sources, source)
	return nil
}

func (h *Host) AddNamedSource(target bridge.TargetHandle, name, source string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.NamedSources == nil {
		t.NamedSources = make(map[string][]string)
	}
	t.NamedSources[name] = append(t.NamedSources[name], source)
	return nil
}

func (h *Host) AddData(target bridge.TargetHandle, data string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Data = append(t.Data, data)
	return nil
}

func (h *Host) AddCommand(target bridge.TargetHandle, config, command string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Commands == nil {
		t.Commands = make(map[string]string)
	}
	t.Commands[config] = command
	return nil
}

func (h *Host) AddTestCommand(target bridge.TargetHandle, config, command string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.TestCommands == nil {
		t.TestCommands = make(map[string]string)
	}
	t.TestCommands[config] = command
	return nil
}

func (h *Host) AddDependency(target bridge.TargetHandle, dep string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	if _, err := ParseLabel(dep, t.Label.Package); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Deps = append(t.Deps, dep)
	return nil
}

func (h *Host) AddExportedDependency(target bridge.TargetHandle, dep string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	if _, err := ParseLabel(dep, t.Label.Package); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ExportedDeps = append(t.ExportedDeps, dep)
	return nil
}

// AddTool attaches a build tool. Tools may be labels or plain executable
// names on the path, so no label validation happens here.
func (h *Host) AddTool(target bridge.TargetHandle, tool string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Tools = append(t.Tools, tool)
	return nil
}

func (h *Host) AddOutput(target bridge.TargetHandle, output string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Outputs = append(t.Outputs, output)
	return nil
}

func (h *Host) AddOptionalOutput(target bridge.TargetHandle, output string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OptionalOutputs = append(t.OptionalOutputs, output)
	return nil
}

func (h *Host) AddVisibility(target bridge.TargetHandle, vis string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	if vis != VisibilityPublic && !strings.HasPrefix(vis, "//") {
		return fmt.Errorf("invalid visibility entry %q; must be PUBLIC or start with //", vis)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Visibility = append(t.Visibility, vis)
	return nil
}

func (h *Host) AddLabel(target bridge.TargetHandle, label string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Labels = append(t.Labels, label)
	return nil
}

func (h *Host) AddHash(target bridge.TargetHandle, hash string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Hashes = append(t.Hashes, hash)
	return nil
}

func (h *Host) AddLicence(target bridge.TargetHandle, licence string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Licences = append(t.Licences, licence)
	return nil
}

func (h *Host) AddTestOutput(target bridge.TargetHandle, output string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TestOutputs = append(t.TestOutputs, output)
	return nil
}

func (h *Host) AddRequire(target bridge.TargetHandle, require string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Requires = append(t.Requires, require)
	return nil
}

func (h *Host) AddProvide(target bridge.TargetHandle, capability, dep string) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	if _, err := ParseLabel(dep, t.Label.Package); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Provides == nil {
		t.Provides = make(map[string]string)
	}
	t.Provides[capability] = dep
	return nil
}

func (h *Host) RegisterPreBuild(handle bridge.CallbackHandle, target bridge.TargetHandle) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PreBuild = handle
	return nil
}

func (h *Host) RegisterPostBuild(handle bridge.CallbackHandle, target bridge.TargetHandle) error {
	t, err := targetOf(target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.PostBuild = handle
	return nil
}

// AddDependencyPost attaches a dependency to a named target after its
// package finished parsing; used from pre-build callbacks.
func (h *Host) AddDependencyPost(pkg bridge.PackageHandle, target, dep string, exported bool) error {
	t, err := h.getTargetPost(pkg, target)
	if err != nil {
		return err
	}
	if _, err := ParseLabel(dep, t.Label.Package); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if exported {
		t.ExportedDeps = append(t.ExportedDeps, dep)
	} else {
		t.Deps = append(t.Deps, dep)
	}
	return nil
}

func (h *Host) AddOutputPost(pkg bridge.PackageHandle, target, output string) error {
	t, err := h.getTargetPost(pkg, target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Outputs = append(t.Outputs, output)
	return nil
}

func (h *Host) AddLicencePost(pkg bridge.PackageHandle, target, licence string) error {
	t, err := h.getTargetPost(pkg, target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Licences = append(t.Licences, licence)
	return nil
}

// SetCommand replaces or adds a command on a named target. With an empty
// command the config argument is the new default command; otherwise it names
// the configuration the command applies to.
func (h *Host) SetCommand(pkg bridge.PackageHandle, target, config, command string) error {
	t, err := h.getTargetPost(pkg, target)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if command == "" {
		t.Command = config
		return nil
	}
	if t.Commands == nil {
		t.Commands = make(map[string]string)
	}
	t.Commands[config] = command
	return nil
}

// GetLabels returns the transitive labels of a named target matching prefix.
// Only valid while the target is building, i.e. from its own pre-build
// callback; anything else would observe a dependency closure that is still
// changing.
func (h *Host) GetLabels(pkg bridge.PackageHandle, target, prefix string) ([]string, error) {
	t, err := h.getTargetPost(pkg, target)
	if err != nil {
		return nil, err
	}
	if t.State() != StateBuilding {
		return nil, fmt.Errorf("get_labels called for %s incorrectly; it is only safe to call from the target's own pre-build callback", t.Label)
	}
	return h.graph.TransitiveLabels(t, prefix), nil
}

// Glob expands include patterns against the package's directory and returns
// the matching file paths relative to it, in walk order. Hidden files and
// directories are skipped unless requested; the package's own BUILD file
// never matches.
func (h *Host) Glob(pkg bridge.PackageHandle, includes, excludes []string, hidden bool) ([]string, error) {
	p, err := packageOf(pkg)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(h.root, filepath.FromSlash(p.Name))
	buildFile := filepath.Base(p.Filename)

	var out []string
	err = filepath.WalkDir(dir, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if walked != dir && !hidden && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden && strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, walked)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == buildFile {
			return nil
		}
		if !matchesAnyPattern(includes, rel) || globExcluded(excludes, rel, name) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob in //%s failed: %w", p.Name, err)
	}
	return out, nil
}

// matchesAnyPattern reports whether any pattern matches the relative path.
// Patterns use path.Match syntax per segment; "**" spans any number of
// directories.
func matchesAnyPattern(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/")) {
			return true
		}
	}
	return false
}

// globExcluded reports whether an exclude pattern matches the relative path
// or, for bare patterns, the file's base name at any depth.
func globExcluded(excludes []string, rel, base string) bool {
	for _, pattern := range excludes {
		if matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/")) {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := path.Match(pattern, base); ok {
				return true
			}
		}
	}
	return false
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pattern[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	if ok, err := path.Match(pattern[0], parts[0]); err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}

// IncludeFilePath resolves an include_defs label to a path under the repo
// root. The answer uses the in-band error convention.
func (h *Host) IncludeFilePath(pkg bridge.PackageHandle, label string) string {
	if !strings.HasPrefix(label, "//") {
		return bridge.ErrorString("include_defs argument must be an absolute path (ie. start with //)")
	}
	return filepath.Join(h.root, strings.TrimLeft(label, "/"))
}

// SubincludeFilePath resolves a subinclude label to the single output of the
// named target. The answer is a path once the target is ready, the deferral
// sentinel while its package is unparsed or the target itself is not ready,
// and an in-band error for everything that can never succeed.
func (h *Host) SubincludeFilePath(pkg bridge.PackageHandle, labelStr string) string {
	p, err := packageOf(pkg)
	if err != nil {
		return bridge.ErrorString(err.Error())
	}
	label, err := ParseLabel(labelStr, p.Name)
	if err != nil {
		return bridge.ErrorString(err.Error())
	}
	if label.Package == p.Name {
		return bridge.ErrorString(fmt.Sprintf("can't subinclude :%s in //%s; local targets cannot be subincluded", label.Name, p.Name))
	}
	t := h.graph.Target(label)
	if t == nil {
		if h.graph.Package(label.Package) == nil {
			// Not parsed yet; the scheduler queues the package and retries.
			h.recordDeferral(p.Name, label)
			return bridge.DeferSentinel
		}
		return bridge.ErrorString(fmt.Sprintf("failed to subinclude %s; package //%s has no target by that name", label, label.Package))
	}
	if !t.IsVisibleTo(p.Name) {
		return bridge.ErrorString(fmt.Sprintf("can't subinclude %s from //%s due to visibility constraints", label, p.Name))
	}
	outs := t.DeclaredOutputs()
	if len(outs) != 1 {
		return bridge.ErrorString(fmt.Sprintf("can't subinclude %s; subinclude targets must have exactly one output", label))
	}
	if t.State() < StateReady {
		h.recordDeferral(p.Name, label)
		return bridge.DeferSentinel
	}
	p.registerSubinclude(label)
	return filepath.Join(h.root, label.Package, outs[0])
}

// Log records a message from configuration code. Fatal messages are logged
// at error level; whether to abort the process is the caller's decision, not
// the host's.
func (h *Host) Log(level int, pkg bridge.PackageHandle, msg string) {
	logger := h.logger
	if p, err := packageOf(pkg); err == nil {
		logger = logger.WithPackage(p.Name).WithFile(p.Filename)
		msg = fmt.Sprintf("//%s/%s: %s", p.Name, filepath.Base(p.Filename), msg)
	}
	switch level {
	case bridge.LevelFatal, bridge.LevelError:
		logger.Error(msg)
	case bridge.LevelWarning:
		logger.Warn(msg)
	case bridge.LevelNotice, bridge.LevelInfo:
		logger.Info(msg)
	default:
		logger.Debug(msg)
	}
}

// recordDeferral notes that a package's parse deferred waiting on a label.
func (h *Host) recordDeferral(pkg string, label Label) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.deferrals[pkg] {
		if existing == label {
			return
		}
	}
	h.deferrals[pkg] = append(h.deferrals[pkg], label)
}

// TakeDeferrals removes and returns the labels a package deferred on since
// the last call. The scheduler uses them to queue the awaited packages and
// to build the deferral graph for cycle reporting.
func (h *Host) TakeDeferrals(pkg string) []Label {
	h.mu.Lock()
	defer h.mu.Unlock()
	labels := h.deferrals[pkg]
	delete(h.deferrals, pkg)
	return labels
}
