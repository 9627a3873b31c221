package bridge

import "context"

// Status classifies the outcome of a file evaluation.
type Status int

const (
	// StatusOK means the file evaluated to completion and all its targets
	// were reported to the host.
	StatusOK Status = iota

	// StatusDeferred means the file depends on a target that is not ready
	// yet. The host should retry the whole file later; the aborted attempt
	// left no observable state behind.
	StatusDeferred

	// StatusError means evaluation failed. Err carries the classified
	// parse error.
	StatusError
)

// String returns a short name for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDeferred:
		return "deferred"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a ParseFile call. Deferral is a value of
// this type rather than an error so callers cannot confuse "retry later"
// with a real failure.
type Result struct {
	Status Status
	Err    error
}

// OK returns a successful result.
func OK() Result {
	return Result{Status: StatusOK}
}

// Deferred returns a deferral result.
func Deferred() Result {
	return Result{Status: StatusDeferred}
}

// Errored returns a failed result carrying err.
func Errored(err error) Result {
	return Result{Status: StatusError, Err: err}
}

// Payload renders the result in the string convention used across the
// boundary: empty for success, the deferral sentinel for deferral, and the
// error message otherwise.
func (r Result) Payload() string {
	switch r.Status {
	case StatusDeferred:
		return DeferSentinel
	case StatusError:
		if r.Err != nil {
			return r.Err.Error()
		}
		return "unknown parse error"
	default:
		return ""
	}
}

// Evaluator is the host-to-evaluator half of the bridge. Implementations
// must never let a panic or error escape these entry points un-converted:
// every failure surfaces as a Result or error return.
type Evaluator interface {
	// ParseFile evaluates one BUILD file in a fresh package environment.
	ParseFile(ctx context.Context, path, pkgName string, pkg PackageHandle) Result

	// ParseCode evaluates an internally-generated snippet into the shared
	// template environment, making its definitions available to every
	// subsequently parsed file. The label names the snippet in
	// diagnostics.
	ParseCode(ctx context.Context, src, label string) error

	// SetConfigValue seeds one setting in the global configuration
	// template. Repeated values for the same name accumulate into a list.
	SetConfigValue(name, value string)

	// RunPreBuildCallback invokes a registered pre-build callback by
	// handle, passing the target name.
	RunPreBuildCallback(ctx context.Context, handle CallbackHandle, target string) error

	// RunPostBuildCallback invokes a registered post-build callback by
	// handle, passing the target name and the captured build output lines.
	RunPostBuildCallback(ctx context.Context, handle CallbackHandle, target string, output []string) error

	// ReleaseCallbacks drops the registered callbacks owned by a target
	// once the host signals its build lifecycle is complete.
	ReleaseCallbacks(target string)
}
