package parse

import (
	"strings"

	"github.com/quarrybuild/quarry/pkg/bridge"
	"go.starlark.net/starlark"
)

// flakyDefault is the rerun count used when flaky is passed as a bare True.
const flakyDefault = 3

// ruleArgs is the raw argument set of a target declaration before coercion.
// build_rule fills all of it; filegroup fills the subset it accepts.
type ruleArgs struct {
	name                string
	cmd                 starlark.Value
	testCmd             starlark.Value
	srcs                starlark.Value
	systemSrcs          starlark.Value
	data                starlark.Value
	outs                starlark.Value
	optionalOuts        starlark.Value
	deps                starlark.Value
	exportedDeps        starlark.Value
	tools               starlark.Value
	labels              starlark.Value
	visibility          starlark.Value
	hashes              starlark.Value
	licences            starlark.Value
	testOutputs         starlark.Value
	requires            starlark.Value
	provides            starlark.Value
	preBuild            starlark.Value
	postBuild           starlark.Value
	testOnly            starlark.Value
	flaky               starlark.Value
	binary              bool
	test                bool
	needsTransitiveDeps bool
	outputIsComplete    bool
	container           bool
	noTestOutput        bool
	buildTimeout        int
	testTimeout         int
	buildingDescription string
}

// buildRule implements build_rule(), the single primitive every rule in a
// BUILD file ultimately reduces to. It validates the declaration, creates the
// target through the host and attaches all list-valued properties piecewise.
func (env *packageEnv) buildRule(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var ra ruleArgs
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &ra.name,
		"cmd?", &ra.cmd,
		"test_cmd?", &ra.testCmd,
		"srcs?", &ra.srcs,
		"system_srcs?", &ra.systemSrcs,
		"data?", &ra.data,
		"outs?", &ra.outs,
		"optional_outs?", &ra.optionalOuts,
		"deps?", &ra.deps,
		"exported_deps?", &ra.exportedDeps,
		"tools?", &ra.tools,
		"labels?", &ra.labels,
		"visibility?", &ra.visibility,
		"hashes?", &ra.hashes,
		"licences?", &ra.licences,
		"test_outputs?", &ra.testOutputs,
		"requires?", &ra.requires,
		"provides?", &ra.provides,
		"pre_build?", &ra.preBuild,
		"post_build?", &ra.postBuild,
		"binary?", &ra.binary,
		"test?", &ra.test,
		"test_only?", &ra.testOnly,
		"needs_transitive_deps?", &ra.needsTransitiveDeps,
		"output_is_complete?", &ra.outputIsComplete,
		"container?", &ra.container,
		"no_test_output?", &ra.noTestOutput,
		"flaky?", &ra.flaky,
		"build_timeout?", &ra.buildTimeout,
		"test_timeout?", &ra.testTimeout,
		"building_description?", &ra.buildingDescription,
	); err != nil {
		return nil, err
	}
	return env.assemble(&ra)
}

// filegroup implements filegroup(), a rule with no command whose outputs are
// its sources. The empty command is the signal the host recognises; every
// other property behaves as in build_rule.
func (env *packageEnv) filegroup(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ra := ruleArgs{outputIsComplete: true}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &ra.name,
		"srcs?", &ra.srcs,
		"deps?", &ra.deps,
		"exported_deps?", &ra.exportedDeps,
		"labels?", &ra.labels,
		"visibility?", &ra.visibility,
		"licences?", &ra.licences,
		"requires?", &ra.requires,
		"provides?", &ra.provides,
		"binary?", &ra.binary,
		"test_only?", &ra.testOnly,
		"output_is_complete?", &ra.outputIsComplete,
	); err != nil {
		return nil, err
	}
	return env.assemble(&ra)
}

// assemble validates a declaration, creates the target and attaches its
// properties. The validation order is fixed so diagnostics are stable: name
// checks, shape checks, then semantic consistency, then creation.
func (env *packageEnv) assemble(ra *ruleArgs) (starlark.Value, error) {
	if ra.name == "all" {
		return nil, NewDomainErrorf(`"all" is a reserved build target name`)
	}
	if strings.ContainsAny(ra.name, "/:") {
		return nil, NewDomainErrorf(`"/" and ":" are not allowed in target names`)
	}
	if ra.container && !ra.test {
		return nil, NewDomainErrorf("only tests can be containerised, %s is not a test", ra.name)
	}
	if !isNone(ra.testCmd) && !ra.test {
		return nil, NewDomainErrorf("target %s has a test command but is not a test", ra.name)
	}
	if ra.test && isNone(ra.testCmd) {
		return nil, NewDomainErrorf("target %s is a test but has no test command", ra.name)
	}

	srcs, namedSrcs, err := env.coerceSources(ra.srcs)
	if err != nil {
		return nil, NewDomainError("invalid target declaration", err)
	}
	systemSrcs, err := systemSourceList(ra.systemSrcs, ra.name)
	if err != nil {
		return nil, NewDomainError("invalid target declaration", err)
	}
	cmd, cmdByConfig, err := commandArg(ra.cmd, "cmd")
	if err != nil {
		return nil, NewDomainError("invalid target declaration", err)
	}
	cmd = strings.TrimSpace(cmd)
	for config, command := range cmdByConfig {
		cmdByConfig[config] = strings.TrimSpace(command)
	}
	testCmd, testCmdByConfig, err := commandArg(ra.testCmd, "test_cmd")
	if err != nil {
		return nil, NewDomainError("invalid target declaration", err)
	}
	flaky, err := intOrBool(ra.flaky, flakyDefault, "flaky")
	if err != nil {
		return nil, NewDomainError("invalid target declaration", err)
	}

	// Unset visibility, licences and test_only fall back to the package
	// configuration.
	visibility := ra.visibility
	if isNone(visibility) {
		visibility, _ = env.config.Get("DEFAULT_VISIBILITY")
	}
	licences := ra.licences
	if isNone(licences) {
		licences, _ = env.config.Get("DEFAULT_LICENCES")
	}
	testOnly := ra.testOnly
	if isNone(testOnly) {
		testOnly, _ = env.config.Get("DEFAULT_TESTONLY")
	}

	spec := bridge.TargetSpec{
		Name:                ra.name,
		Command:             cmd,
		TestCommand:         testCmd,
		Binary:              ra.binary,
		Test:                ra.test,
		NeedsTransitiveDeps: ra.needsTransitiveDeps,
		OutputIsComplete:    ra.outputIsComplete,
		Container:           ra.container,
		NoTestOutput:        ra.noTestOutput,
		// Tests are implicitly test-only.
		TestOnly:            boolValue(testOnly) || ra.test,
		Flaky:               flaky,
		BuildTimeout:        ra.buildTimeout,
		TestTimeout:         ra.testTimeout,
		BuildingDescription: ra.buildingDescription,
	}

	handle, err := env.eval.host.CreateTarget(env.pkgHandle, spec)
	if err != nil {
		return nil, NewDomainError("failed to create target "+ra.name, err)
	}
	if handle == nil {
		return nil, NewDuplicateTargetError(env.pkgName, ra.name)
	}
	// The first target closes the package's configuration window.
	env.config.Freeze()

	if err := env.attach(handle, ra, srcs, systemSrcs, namedSrcs, cmdByConfig, testCmdByConfig, visibility, licences); err != nil {
		return nil, err
	}
	return starlark.String(":" + ra.name), nil
}

// attach wires the list-valued properties of a freshly created target, one
// host call per value.
func (env *packageEnv) attach(handle bridge.TargetHandle, ra *ruleArgs, srcs, systemSrcs []string, namedSrcs map[string][]string, cmdByConfig, testCmdByConfig map[string]string, visibility, licences starlark.Value) error {
	host := env.eval.host
	fail := func(what string, err error) error {
		return NewDomainError("failed to attach "+what+" to target "+ra.name, err)
	}

	for config, command := range cmdByConfig {
		if err := host.AddCommand(handle, config, command); err != nil {
			return fail("command", err)
		}
	}
	for config, command := range testCmdByConfig {
		if err := host.AddTestCommand(handle, config, command); err != nil {
			return fail("test command", err)
		}
	}
	for _, src := range srcs {
		if err := host.AddSource(handle, src); err != nil {
			return fail("source", err)
		}
	}
	for _, src := range systemSrcs {
		if err := host.AddSource(handle, src); err != nil {
			return fail("source", err)
		}
	}
	for group, sources := range namedSrcs {
		for _, src := range sources {
			if err := host.AddNamedSource(handle, group, src); err != nil {
				return fail("source", err)
			}
		}
	}
	if !isNone(ra.data) {
		data, err := stringList(ra.data, "data")
		if err != nil {
			return fail("data", err)
		}
		for _, d := range data {
			if err := host.AddData(handle, d); err != nil {
				return fail("data", err)
			}
		}
	}

	type listAttach struct {
		value starlark.Value
		arg   string
		add   func(bridge.TargetHandle, string) error
	}
	for _, la := range []listAttach{
		{ra.tools, "tools", host.AddTool},
		{ra.deps, "deps", host.AddDependency},
		{ra.exportedDeps, "exported_deps", host.AddExportedDependency},
		{ra.outs, "outs", host.AddOutput},
		{ra.optionalOuts, "optional_outs", host.AddOptionalOutput},
		{visibility, "visibility", host.AddVisibility},
		{ra.labels, "labels", host.AddLabel},
		{ra.hashes, "hashes", host.AddHash},
		{licences, "licences", host.AddLicence},
		{ra.testOutputs, "test_outputs", host.AddTestOutput},
		{ra.requires, "requires", host.AddRequire},
	} {
		values, err := defaultableStringList(la.value, la.arg)
		if err != nil {
			return fail(la.arg, err)
		}
		for _, v := range values {
			if err := la.add(handle, v); err != nil {
				return fail(la.arg, err)
			}
		}
	}

	if !isNone(ra.provides) {
		provides, err := stringMap(ra.provides, "provides")
		if err != nil {
			return fail("provides", err)
		}
		for capability, dep := range provides {
			if err := host.AddProvide(handle, capability, dep); err != nil {
				return fail("provides", err)
			}
		}
	}

	if err := env.registerCallback(handle, ra.name, ra.preBuild, "pre_build", host.RegisterPreBuild); err != nil {
		return err
	}
	if err := env.registerCallback(handle, ra.name, ra.postBuild, "post_build", host.RegisterPostBuild); err != nil {
		return err
	}
	return nil
}

// registerCallback keeps a callback alive in the registry and hands its
// handle to the host.
func (env *packageEnv) registerCallback(handle bridge.TargetHandle, name string, fn starlark.Value, arg string, register func(bridge.CallbackHandle, bridge.TargetHandle) error) error {
	if isNone(fn) {
		return nil
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return NewDomainErrorf("%q argument to target %s must be callable, not %s", arg, name, fn.Type())
	}
	cbHandle := env.eval.registry.Register(callable, env.targetKey(name))
	if err := register(cbHandle, handle); err != nil {
		env.eval.registry.ReleaseTarget(env.targetKey(name))
		return NewDomainError("failed to register "+arg+" callback on target "+name, err)
	}
	return nil
}

// targetKey is the registry ownership key for a target of this package.
func (env *packageEnv) targetKey(name string) string {
	return env.pkgName + ":" + name
}

// coerceSources accepts srcs as a plain list or a dict of named groups and
// rejects absolute paths either way.
func (env *packageEnv) coerceSources(v starlark.Value) ([]string, map[string][]string, error) {
	if isNone(v) {
		return nil, nil, nil
	}
	if _, isMap := v.(starlark.IterableMapping); isMap {
		named, err := namedStringLists(v, "srcs")
		if err != nil {
			return nil, nil, err
		}
		for _, sources := range named {
			if err := rejectAbsolute(sources); err != nil {
				return nil, nil, err
			}
		}
		return nil, named, nil
	}
	srcs, err := stringList(v, "srcs")
	if err != nil {
		return nil, nil, err
	}
	if err := rejectAbsolute(srcs); err != nil {
		return nil, nil, err
	}
	return srcs, nil, nil
}

func rejectAbsolute(srcs []string) error {
	for _, src := range srcs {
		// "//pkg:name" is a build label, not a filesystem path.
		if strings.HasPrefix(src, "/") && !strings.HasPrefix(src, "//") {
			return NewDomainErrorf("source %s is an absolute path; use system_srcs for files outside the repo", src)
		}
	}
	return nil
}

// systemSourceList coerces system_srcs, which must all be absolute paths
// outside the repo.
func systemSourceList(v starlark.Value, name string) ([]string, error) {
	if isNone(v) {
		return nil, nil
	}
	srcs, err := stringList(v, "system_srcs")
	if err != nil {
		return nil, err
	}
	for _, src := range srcs {
		if !strings.HasPrefix(src, "/") || strings.HasPrefix(src, "//") {
			return nil, NewDomainErrorf("system source %s of %s is not an absolute path; in-repo files belong in srcs", src, name)
		}
	}
	return srcs, nil
}

// commandArg accepts a command as a plain string or as a dict mapping build
// configurations to strings.
func commandArg(v starlark.Value, arg string) (string, map[string]string, error) {
	if isNone(v) {
		return "", nil, nil
	}
	if s, ok := asString(v); ok {
		return s, nil, nil
	}
	byConfig, err := stringMap(v, arg)
	if err != nil {
		return "", nil, err
	}
	return "", byConfig, nil
}

// defaultableStringList is stringList with the extra allowance that a bare
// string yields a single-element list. Configuration defaults like
// DEFAULT_VISIBILITY may legitimately be seeded as single strings by the
// host, so arguments that fall back to them get the lenient coercion.
func defaultableStringList(v starlark.Value, arg string) ([]string, error) {
	if isNone(v) {
		return nil, nil
	}
	if s, ok := asString(v); ok {
		return []string{s}, nil
	}
	return stringList(v, arg)
}
