package parse

import (
	"fmt"
	"path"

	"github.com/quarrybuild/quarry/pkg/bridge"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// packageEnv is one file's isolated evaluation environment: a fresh clone of
// the shared template with every primitive rebound to this package. Nothing
// a file defines or overrides is visible to any other file; the environment
// is dropped when the file's evaluation completes or aborts.
type packageEnv struct {
	eval      *Evaluator
	pkgName   string
	pkgHandle bridge.PackageHandle

	// config is this package's copy-on-write snapshot of the global store.
	config *ConfigStore

	// dict is the predeclared namespace the file executes against.
	dict starlark.StringDict

	// included tracks helper files already merged into this environment so
	// a directive that runs both in the pre-scan and in the body is
	// idempotent.
	included map[string]bool
}

// newPackageEnv clones the template for one file. Every callable primitive
// is rebuilt bound to this environment, and the template snippets are
// re-executed into it so their definitions resolve against this package's
// primitives rather than another file's.
func newPackageEnv(eval *Evaluator, pkgName string, pkgHandle bridge.PackageHandle) (*packageEnv, error) {
	env := &packageEnv{
		eval:      eval,
		pkgName:   pkgName,
		pkgHandle: pkgHandle,
		config:    eval.template.config.Copy(),
		included:  make(map[string]bool),
	}

	env.dict = starlark.StringDict{
		"CONFIG":           &configValue{store: env.config},
		"build_rule":       starlark.NewBuiltin("build_rule", env.buildRule),
		"filegroup":        starlark.NewBuiltin("filegroup", env.filegroup),
		"subinclude":       starlark.NewBuiltin("subinclude", env.subinclude),
		"include_defs":     starlark.NewBuiltin("include_defs", env.includeDefs),
		"glob":             starlark.NewBuiltin("glob", env.glob),
		"package":          starlark.NewBuiltin("package", env.packageSettings),
		"licenses":         starlark.NewBuiltin("licenses", env.licenses),
		"get_base_path":    starlark.NewBuiltin("get_base_path", env.getBasePath),
		"get_labels":       starlark.NewBuiltin("get_labels", env.getLabels),
		"has_label":        starlark.NewBuiltin("has_label", env.hasLabel),
		"add_dep":          starlark.NewBuiltin("add_dep", env.addDep),
		"add_exported_dep": starlark.NewBuiltin("add_exported_dep", env.addExportedDep),
		"add_out":          starlark.NewBuiltin("add_out", env.addOut),
		"add_licence":      starlark.NewBuiltin("add_licence", env.addLicence),
		"set_command":      starlark.NewBuiltin("set_command", env.setCommand),
		"join_path":        starlark.NewBuiltin("join_path", builtinJoinPath),
		"split_path":       starlark.NewBuiltin("split_path", builtinSplitPath),
		"splitext":         starlark.NewBuiltin("splitext", builtinSplitext),
		"basename":         starlark.NewBuiltin("basename", builtinBasename),
		"dirname":          starlark.NewBuiltin("dirname", builtinDirname),
		"log":              env.logModule(),
	}

	// Re-execute the template snippets so their definitions are rebound to
	// this environment.
	thread := eval.newThread(pkgName)
	for _, sn := range eval.template.snapshot() {
		globals, err := sn.prog.Init(thread, env.dict)
		if err != nil {
			return nil, NewDomainError(fmt.Sprintf("failed to load definitions from %s", sn.label), err)
		}
		for k, v := range globals {
			env.dict[k] = v
		}
	}
	return env, nil
}

// isPredeclared reports whether a name resolves in environments cloned from
// the template: a primitive, a snippet definition, or a name contributed by
// an inclusion already merged into some environment.
func (e *Evaluator) isPredeclared(name string) bool {
	return primitiveNames[name] || e.template.hasName(name)
}

// logModule builds the log value with one member per bridge level.
func (env *packageEnv) logModule() *starlarkstruct.Module {
	member := func(name string, level int) starlark.Value {
		return starlark.NewBuiltin("log."+name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("%s does not accept keyword arguments", b.Name())
			}
			if len(args) == 0 {
				return nil, fmt.Errorf("%s requires a message", b.Name())
			}
			msg, ok := asString(args[0])
			if !ok {
				return nil, fmt.Errorf("%s message must be a string", b.Name())
			}
			if len(args) > 1 {
				format := make([]interface{}, len(args)-1)
				for i, a := range args[1:] {
					if s, isStr := asString(a); isStr {
						format[i] = s
					} else {
						format[i] = a.String()
					}
				}
				msg = fmt.Sprintf(msg, format...)
			}
			env.eval.host.Log(level, env.pkgHandle, msg)
			return starlark.None, nil
		})
	}
	return &starlarkstruct.Module{
		Name: "log",
		Members: starlark.StringDict{
			"fatal":   member("fatal", bridge.LevelFatal),
			"error":   member("error", bridge.LevelError),
			"warning": member("warning", bridge.LevelWarning),
			"notice":  member("notice", bridge.LevelNotice),
			"info":    member("info", bridge.LevelInfo),
			"debug":   member("debug", bridge.LevelDebug),
		},
	}
}

// packageSettings implements package(**kwargs): package-level overrides of
// the configuration store, rejected once any target has been declared.
func (env *packageEnv) packageSettings(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s only accepts keyword arguments", b.Name())
	}
	for _, kv := range kwargs {
		key, ok := asString(kv[0])
		if !ok {
			return nil, fmt.Errorf("%s keyword must be a string", b.Name())
		}
		if err := env.config.Override(key, kv[1]); err != nil {
			return nil, err
		}
	}
	return starlark.None, nil
}

// glob expands file patterns against this package's directory through the
// host. A bare string for includes is rejected outright; it would silently
// glob per-character.
func (env *packageEnv) glob(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var includes, excludes starlark.Value
	var hidden bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "includes", &includes, "excludes?", &excludes, "hidden?", &hidden); err != nil {
		return nil, err
	}
	if _, isStr := includes.(starlark.String); isStr {
		return nil, fmt.Errorf("the first argument to glob() should be a list")
	}
	inc, err := stringList(includes, "includes")
	if err != nil {
		return nil, err
	}
	exc, err := stringList(excludes, "excludes")
	if err != nil {
		return nil, err
	}
	files, err := env.eval.host.Glob(env.pkgHandle, inc, exc, hidden)
	if err != nil {
		return nil, NewDomainError("glob failed", err)
	}
	out := make([]starlark.Value, len(files))
	for i, f := range files {
		out[i] = starlark.String(f)
	}
	return starlark.NewList(out), nil
}

// licenses implements licenses(licences), an alias for overriding the
// default licences of the package.
func (env *packageEnv) licenses(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var licences starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "licences", &licences); err != nil {
		return nil, err
	}
	if err := env.config.Override("DEFAULT_LICENCES", licences); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (env *packageEnv) getBasePath(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 || len(kwargs) > 0 {
		return nil, fmt.Errorf("get_base_path takes no arguments")
	}
	return starlark.String(env.pkgName), nil
}

// getLabels returns the transitive labels of a target matching a prefix.
// Only meaningful from the target's own pre-build callback.
func (env *packageEnv) getLabels(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, prefix string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "prefix", &prefix); err != nil {
		return nil, err
	}
	labels, err := env.eval.host.GetLabels(env.pkgHandle, name, prefix)
	if err != nil {
		return nil, NewDomainError("get_labels failed", err)
	}
	out := make([]starlark.Value, len(labels))
	for i, l := range labels {
		out[i] = starlark.String(l)
	}
	return starlark.NewList(out), nil
}

func (env *packageEnv) hasLabel(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	labels, err := env.getLabels(thread, b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(labels.(*starlark.List).Len() > 0), nil
}

// addDep attaches a dependency to an already-created target; used from
// pre-build callbacks after the package has finished parsing.
func (env *packageEnv) addDep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target, dep string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &target, "dep", &dep); err != nil {
		return nil, err
	}
	if err := env.eval.host.AddDependencyPost(env.pkgHandle, target, dep, false); err != nil {
		return nil, NewDomainError("add_dep failed", err)
	}
	return starlark.None, nil
}

func (env *packageEnv) addExportedDep(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target, dep string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &target, "dep", &dep); err != nil {
		return nil, err
	}
	if err := env.eval.host.AddDependencyPost(env.pkgHandle, target, dep, true); err != nil {
		return nil, NewDomainError("add_exported_dep failed", err)
	}
	return starlark.None, nil
}

func (env *packageEnv) addOut(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target, out string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &target, "out", &out); err != nil {
		return nil, err
	}
	if err := env.eval.host.AddOutputPost(env.pkgHandle, target, out); err != nil {
		return nil, NewDomainError("add_out failed", err)
	}
	return starlark.None, nil
}

func (env *packageEnv) addLicence(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target, licence string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &target, "licence", &licence); err != nil {
		return nil, err
	}
	if err := env.eval.host.AddLicencePost(env.pkgHandle, target, licence); err != nil {
		return nil, NewDomainError("add_licence failed", err)
	}
	return starlark.None, nil
}

// setCommand replaces or adds a command on an existing target from a
// pre-build callback, optionally scoped to one build configuration.
func (env *packageEnv) setCommand(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, config, command string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "config", &config, "command?", &command); err != nil {
		return nil, err
	}
	if err := env.eval.host.SetCommand(env.pkgHandle, name, config, command); err != nil {
		return nil, NewDomainError("set_command failed", err)
	}
	return starlark.None, nil
}

// Path helpers shared by helper files; pure functions, package-independent.

func builtinJoinPath(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s does not accept keyword arguments", b.Name())
	}
	parts := make([]string, len(args))
	for i, a := range args {
		s, ok := asString(a)
		if !ok {
			return nil, fmt.Errorf("%s arguments must be strings", b.Name())
		}
		parts[i] = s
	}
	return starlark.String(path.Join(parts...)), nil
}

func builtinSplitPath(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	dir, file := path.Split(p)
	return starlark.Tuple{starlark.String(dir), starlark.String(file)}, nil
}

func builtinSplitext(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	ext := path.Ext(p)
	return starlark.Tuple{starlark.String(p[:len(p)-len(ext)]), starlark.String(ext)}, nil
}

func builtinBasename(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return starlark.String(path.Base(p)), nil
}

func builtinDirname(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return starlark.String(path.Dir(p)), nil
}
