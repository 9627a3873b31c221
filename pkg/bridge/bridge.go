package bridge

// PackageHandle is an opaque reference to a host-side package. The evaluator
// receives it when asked to parse a file and passes it back unchanged on
// every call it makes for that file; it never inspects the value.
type PackageHandle interface{}

// TargetHandle is an opaque reference to a target in the host's graph,
// returned by CreateTarget and passed back on every attach call. A nil
// handle from CreateTarget means the name is already taken in the package.
type TargetHandle interface{}

// CallbackHandle identifies a registered pre- or post-build callback. The
// host stores only the handle and invokes the callback through the
// Evaluator later; the evaluator is responsible for keeping the callback
// itself reachable until the target's build lifecycle completes.
type CallbackHandle string

// Log levels used across the bridge. They are ordered from most to least
// severe so the host can map them onto its own logging backend.
const (
	LevelFatal = iota
	LevelError
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
)

// TargetSpec carries everything CreateTarget needs to construct a target in
// the host's graph. Sources, dependencies, outputs and the rest of the
// list-valued fields are attached afterwards through the Add* calls so the
// host can validate and register each value individually.
type TargetSpec struct {
	// Name is the target name, unique within its package.
	Name string

	// Command is the build command. Empty when per-configuration commands
	// are attached via AddCommand instead.
	Command string

	// TestCommand is the test command. Empty for non-test targets and when
	// per-configuration test commands are attached via AddTestCommand.
	TestCommand string

	// Binary marks the target's output as directly runnable.
	Binary bool

	// Test marks the target as a test.
	Test bool

	// NeedsTransitiveDeps exposes the whole transitive dependency closure
	// to the build command.
	NeedsTransitiveDeps bool

	// OutputIsComplete limits the target's contribution to dependents to
	// its declared outputs.
	OutputIsComplete bool

	// Container requests containerised execution. Only valid for tests.
	Container bool

	// NoTestOutput marks a test that produces no structured output file.
	NoTestOutput bool

	// TestOnly restricts which targets may depend on this one.
	TestOnly bool

	// Flaky is the rerun count for flaky tests; zero means not flaky.
	Flaky int

	// BuildTimeout and TestTimeout are in seconds; zero means the host
	// default applies.
	BuildTimeout int
	TestTimeout  int

	// BuildingDescription is shown by the host while the target builds.
	BuildingDescription string
}

// Host is the evaluator-to-host half of the bridge. Every method that can
// fail returns an error whose message follows the host's diagnostic
// conventions; the evaluator converts such errors into domain parse errors.
//
// Attach calls take the TargetHandle returned by CreateTarget. The *Post
// variants address a target by name instead, because pre- and post-build
// callbacks run after the package finished parsing and no longer hold
// handles.
type Host interface {
	// CreateTarget adds a new target to the package's graph. It returns a
	// nil handle if the name is already taken; any other failure is an
	// error.
	CreateTarget(pkg PackageHandle, spec TargetSpec) (TargetHandle, error)

	// AddSource attaches a source file or source target.
	AddSource(target TargetHandle, source string) error

	// AddNamedSource attaches a source under a named group, for rules that
	// distinguish source roles.
	AddNamedSource(target TargetHandle, name, source string) error

	// AddData attaches a runtime data file the target needs when it runs.
	AddData(target TargetHandle, data string) error

	// AddCommand sets the build command for one build configuration.
	AddCommand(target TargetHandle, config, command string) error

	// AddTestCommand sets the test command for one build configuration.
	AddTestCommand(target TargetHandle, config, command string) error

	// AddDependency attaches a build-time dependency.
	AddDependency(target TargetHandle, dep string) error

	// AddExportedDependency attaches a dependency that is re-exported to
	// dependents.
	AddExportedDependency(target TargetHandle, dep string) error

	// AddTool attaches a build-tool dependency.
	AddTool(target TargetHandle, tool string) error

	// AddOutput declares an output file of the target.
	AddOutput(target TargetHandle, output string) error

	// AddOptionalOutput declares an output the target may or may not
	// produce.
	AddOptionalOutput(target TargetHandle, output string) error

	// AddVisibility appends a visibility entry.
	AddVisibility(target TargetHandle, vis string) error

	// AddLabel attaches a label.
	AddLabel(target TargetHandle, label string) error

	// AddHash attaches an expected content digest.
	AddHash(target TargetHandle, hash string) error

	// AddLicence attaches a licence identifier.
	AddLicence(target TargetHandle, licence string) error

	// AddTestOutput declares a file the test produces.
	AddTestOutput(target TargetHandle, output string) error

	// AddRequire attaches a required capability tag.
	AddRequire(target TargetHandle, require string) error

	// AddProvide maps a capability name to an alternate dependency that
	// dependents requiring that capability should use instead.
	AddProvide(target TargetHandle, capability, dep string) error

	// RegisterPreBuild binds a callback handle to the target; the host
	// invokes it through the Evaluator just before the target builds.
	RegisterPreBuild(handle CallbackHandle, target TargetHandle) error

	// RegisterPostBuild binds a callback handle to the target; the host
	// invokes it through the Evaluator with the captured build output
	// after the target builds.
	RegisterPostBuild(handle CallbackHandle, target TargetHandle) error

	// AddDependencyPost attaches a dependency to a named target after its
	// package finished parsing.
	AddDependencyPost(pkg PackageHandle, target, dep string, exported bool) error

	// AddOutputPost declares an output on a named target after its package
	// finished parsing.
	AddOutputPost(pkg PackageHandle, target, output string) error

	// AddLicencePost attaches a licence to a named target after its
	// package finished parsing.
	AddLicencePost(pkg PackageHandle, target, licence string) error

	// SetCommand replaces or adds a command on a named target. With an
	// empty command the config argument is the new default command;
	// otherwise it names the configuration the command applies to.
	SetCommand(pkg PackageHandle, target, config, command string) error

	// GetLabels returns the transitive labels of a named target that start
	// with prefix, with the prefix stripped, deduplicated and sorted. Only
	// valid while the target is building (from its own pre-build
	// callback).
	GetLabels(pkg PackageHandle, target, prefix string) ([]string, error)

	// Glob expands file patterns relative to the package's directory and
	// returns the matching paths, relative to it. Hidden files are skipped
	// unless requested.
	Glob(pkg PackageHandle, includes, excludes []string, hidden bool) ([]string, error)

	// IncludeFilePath resolves an include_defs label to a file path. The
	// answer uses the in-band error convention.
	IncludeFilePath(pkg PackageHandle, label string) string

	// SubincludeFilePath resolves a subinclude label to the built output
	// file of the named target. The answer is a path, the deferral
	// sentinel, or an in-band error.
	SubincludeFilePath(pkg PackageHandle, label string) string

	// Log records a message at one of the bridge log levels on behalf of
	// configuration code.
	Log(level int, pkg PackageHandle, msg string)
}
