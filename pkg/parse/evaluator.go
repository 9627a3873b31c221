package parse

import (
	"context"
	"errors"
	"fmt"

	"github.com/quarrybuild/quarry/pkg/bridge"
	"github.com/quarrybuild/quarry/pkg/telemetry"
	"go.starlark.net/starlark"
)

// Evaluator implements bridge.Evaluator on top of Starlark. One Evaluator
// serves the whole process; every ParseFile call gets an isolated package
// environment cloned from the shared template, so files can be evaluated
// concurrently from independent goroutines.
type Evaluator struct {
	host     bridge.Host
	template *template
	cache    *Cache
	registry *Registry
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

var _ bridge.Evaluator = (*Evaluator)(nil)

// Options configures optional evaluator collaborators. Zero values are valid:
// logging becomes a no-op and metrics and tracing are skipped.
type Options struct {
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// New creates an Evaluator bound to a host. The first Evaluator created in a
// process prunes the Starlark universe down to the sandbox allowlist; this
// must happen before any evaluation starts and is irreversible.
func New(host bridge.Host, opts Options) *Evaluator {
	ensureSandbox()
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Evaluator{
		host:     host,
		template: newTemplate(),
		cache:    NewCache(),
		registry: NewRegistry(),
		logger:   logger.NewComponentLogger("parse"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
}

// newThread creates a Starlark thread for one evaluation unit. Print is
// routed to debug logging; it is unreachable from BUILD files, which have
// print stripped, but internal snippets may still use it.
func (e *Evaluator) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug(msg)
		},
	}
}

// cancelOnContext cancels the thread when ctx expires, which aborts the
// running Starlark program at its next safe point.
func cancelOnContext(ctx context.Context, thread *starlark.Thread) func() bool {
	return context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
}

// ParseFile evaluates one BUILD file in a fresh package environment and
// reports the outcome as a tagged result. Deferral and failure both leave the
// shared template, the parse cache and the callback registry unchanged apart
// from cached compilations, so a retried file sees exactly the state a first
// attempt would.
func (e *Evaluator) ParseFile(ctx context.Context, path, pkgName string, pkg bridge.PackageHandle) (result bridge.Result) {
	logger := e.logger.WithPackage(pkgName).WithFile(path)
	timer := telemetry.NewTimer()
	defer func() {
		if r := recover(); r != nil {
			result = bridge.Errored(NewDomainErrorf("panic during evaluation: %v", r).WithFile(path).WithPackage(pkgName))
		}
		if e.metrics != nil {
			e.metrics.RecordFileParsed(result.Status.String(), timer.Duration())
			e.metrics.SetCachedFiles(float64(e.cache.Len()))
		}
		logger.WithField("status", result.Status.String()).Debug("file evaluation finished")
	}()

	ctx, finish := e.startSpan(ctx, "parse.file", path, pkgName)
	defer func() { finish(result.Err) }()

	env, err := newPackageEnv(e, pkgName, pkg)
	if err != nil {
		return bridge.Errored(e.classify(err, path, pkgName))
	}

	thread := e.newThread(path)
	stop := cancelOnContext(ctx, thread)
	defer stop()

	entry, cached, err := e.cache.load(path, env.isPredeclared, func(ds []directive) error {
		return env.runDirectives(thread, ds)
	})
	if err != nil {
		return e.resolveOutcome(err, path, pkgName)
	}
	// On a cache hit the compile hook never ran; replay the directives into
	// this environment. A fresh compile already ran them exactly once.
	if cached {
		if err := env.runDirectives(thread, entry.directives); err != nil {
			return e.resolveOutcome(err, path, pkgName)
		}
	}

	globals, err := entry.prog.Init(thread, env.dict)
	if err != nil {
		return e.resolveOutcome(err, path, pkgName)
	}
	globals.Freeze()
	return bridge.OK()
}

// resolveOutcome maps an evaluation error onto the result taxonomy: deferral
// is a non-error outcome, everything else is classified and attributed.
func (e *Evaluator) resolveOutcome(err error, path, pkgName string) bridge.Result {
	if errors.Is(err, ErrDeferred) {
		return bridge.Deferred()
	}
	return bridge.Errored(e.classify(err, path, pkgName))
}

// classify converts an arbitrary evaluation error into a *Error with file
// and package context attached.
func (e *Evaluator) classify(err error, path, pkgName string) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.File == "" {
			perr.File = path
		}
		if perr.Package == "" {
			perr.Package = pkgName
		}
		return perr
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return NewDomainError(evalErr.Backtrace(), evalErr.Unwrap()).WithFile(path).WithPackage(pkgName)
	}
	return NewDomainError(err.Error(), err).WithFile(path).WithPackage(pkgName)
}

// ParseCode compiles an internally-generated snippet and adds it to the
// template, making its definitions visible to every file parsed afterwards.
// The snippet's top level runs once here, in a scratch environment, to
// discover the names it exports; it is re-executed into each new package
// environment so its definitions bind per package.
func (e *Evaluator) ParseCode(ctx context.Context, src, label string) error {
	entry, err := e.cache.compile(label, []byte(src), e.isPredeclared, nil)
	if err != nil {
		return err
	}

	scratch, err := newPackageEnv(e, "", nil)
	if err != nil {
		return err
	}
	thread := e.newThread(label)
	stop := cancelOnContext(ctx, thread)
	defer stop()

	globals, err := entry.prog.Init(thread, scratch.dict)
	if err != nil {
		return e.classify(err, label, "")
	}
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	e.template.addSnippet(entry.prog, label, names)
	e.logger.WithField("label", label).WithField("definitions", len(names)).Debug("loaded definitions")
	return nil
}

// SetConfigValue seeds one setting in the configuration template.
func (e *Evaluator) SetConfigValue(name, value string) {
	e.template.config.Set(name, value)
}

// RunPreBuildCallback invokes a pre-build callback by handle with the target
// name. Deferring from a pre-build callback is not meaningful; the build has
// already been scheduled, so it surfaces as an instructive error.
func (e *Evaluator) RunPreBuildCallback(ctx context.Context, handle bridge.CallbackHandle, target string) error {
	return e.runCallback(ctx, handle, target, "pre-build", starlark.Tuple{starlark.String(target)})
}

// RunPostBuildCallback invokes a post-build callback by handle with the
// target name and its captured build output lines.
func (e *Evaluator) RunPostBuildCallback(ctx context.Context, handle bridge.CallbackHandle, target string, output []string) error {
	lines := make([]starlark.Value, len(output))
	for i, line := range output {
		lines[i] = starlark.String(line)
	}
	return e.runCallback(ctx, handle, target, "post-build", starlark.Tuple{starlark.String(target), starlark.NewList(lines)})
}

func (e *Evaluator) runCallback(ctx context.Context, handle bridge.CallbackHandle, target, kind string, args starlark.Tuple) (err error) {
	fn, ok := e.registry.Lookup(handle)
	if !ok {
		return NewDomainErrorf("no %s callback registered under handle %s for target %s", kind, handle, target)
	}
	defer func() {
		if r := recover(); r != nil {
			err = NewDomainErrorf("panic in %s callback for %s: %v", kind, target, r)
		}
	}()

	timer := telemetry.NewTimer()
	ctx, finish := e.startSpan(ctx, "parse.callback", kind, target)
	thread := e.newThread(kind + " " + target)
	stop := cancelOnContext(ctx, thread)
	_, err = starlark.Call(thread, fn, args, nil)
	stop()
	finish(err)
	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordCallbackRun(kind, status, timer.Duration())
	}
	if err != nil {
		if errors.Is(err, ErrDeferred) {
			return NewDomainErrorf("cannot subinclude() from a %s callback; declare the dependency on the target instead", kind)
		}
		return e.classify(err, "", "")
	}
	return nil
}

// ReleaseCallbacks drops the callbacks owned by a target. The target is
// addressed the way it was registered, as "package:name".
func (e *Evaluator) ReleaseCallbacks(target string) {
	e.registry.ReleaseTarget(target)
	if e.metrics != nil {
		e.metrics.SetLiveCallbacks(float64(e.registry.Len()))
	}
}

// startSpan opens a tracing span when a tracer is configured. The returned
// finish function records the outcome and ends the span; with no tracer both
// are no-ops.
func (e *Evaluator) startSpan(ctx context.Context, operation, primary, secondary string) (context.Context, func(error)) {
	if e.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := e.tracer.StartParseSpan(ctx, operation, primary, secondary)
	return ctx, func(err error) {
		if err != nil && !errors.Is(err, ErrDeferred) {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}
}

// String describes the evaluator for diagnostics.
func (e *Evaluator) String() string {
	return fmt.Sprintf("evaluator(%d cached files, %d live callbacks)", e.cache.Len(), e.registry.Len())
}
