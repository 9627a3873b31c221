package parse

import (
	"errors"

	"github.com/quarrybuild/quarry/pkg/bridge"
	"go.starlark.net/starlark"
)

// This file implements the two inclusion directives. Inclusions run before
// the file body executes (and recursively before any included body), so the
// definitions they contribute are in the environment by the time the body
// compiles against it. The directive primitives also exist as callable
// builtins; a directive that already ran in the pre-scan is a no-op when the
// body reaches the same call.

// isPredeclared reports whether a name resolves in this environment: the
// template names plus anything an inclusion has merged in.
func (env *packageEnv) isPredeclared(name string) bool {
	if env.eval.isPredeclared(name) {
		return true
	}
	_, ok := env.dict[name]
	return ok
}

// runDirectives resolves and executes inclusion directives in order.
func (env *packageEnv) runDirectives(thread *starlark.Thread, directives []directive) error {
	for _, d := range directives {
		var err error
		if d.subinclude {
			err = env.doSubinclude(thread, d.target)
		} else {
			err = env.doIncludeDefs(thread, d.target)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// doIncludeDefs textually merges a helper file's definitions into this
// environment. Deprecated in favour of subinclude; usage is logged.
func (env *packageEnv) doIncludeDefs(thread *starlark.Thread, target string) error {
	env.eval.host.Log(bridge.LevelWarning, env.pkgHandle, "include_defs is deprecated, use subinclude() instead")
	answer := env.eval.host.IncludeFilePath(env.pkgHandle, target)
	if bridge.IsErrorString(answer) {
		return NewDomainErrorf("%s", bridge.ErrorMessage(answer))
	}
	return env.executeInclude(thread, answer)
}

// doSubinclude pulls in the declared output of another build target as if
// its definitions were local. The host answers with a real path, the
// deferral sentinel, or an in-band error.
func (env *packageEnv) doSubinclude(thread *starlark.Thread, target string) error {
	answer := env.eval.host.SubincludeFilePath(env.pkgHandle, target)
	switch {
	case bridge.IsDefer(answer):
		return ErrDeferred
	case bridge.IsErrorString(answer):
		return NewDomainErrorf("%s", bridge.ErrorMessage(answer))
	}
	return env.executeInclude(thread, answer)
}

// executeInclude compiles a helper file through the parse cache and executes
// it into this environment, running its own inclusion directives first. The
// same file is merged at most once per environment.
func (env *packageEnv) executeInclude(thread *starlark.Thread, path string) error {
	if env.included[path] {
		return nil
	}
	env.included[path] = true

	entry, cached, err := env.eval.cache.load(path, env.isPredeclared, func(ds []directive) error {
		return env.runDirectives(thread, ds)
	})
	if err != nil {
		return err
	}
	// On a cache hit the compile hook never ran; replay into this
	// environment. A fresh compile already ran the directives once.
	if cached {
		if err := env.runDirectives(thread, entry.directives); err != nil {
			return err
		}
	}

	globals, err := entry.prog.Init(thread, env.dict)
	if err != nil {
		if errors.Is(err, ErrDeferred) {
			return ErrDeferred
		}
		return NewDomainError("failed to execute included file "+path, err)
	}
	for k, v := range globals {
		env.dict[k] = v
	}
	return nil
}

// subinclude is the callable form of the subinclude directive.
func (env *packageEnv) subinclude(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &target); err != nil {
		return nil, err
	}
	if err := env.doSubinclude(thread, target); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// includeDefs is the callable form of the include_defs directive.
func (env *packageEnv) includeDefs(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "target", &target); err != nil {
		return nil, err
	}
	if err := env.doIncludeDefs(thread, target); err != nil {
		return nil, err
	}
	return starlark.None, nil
}
