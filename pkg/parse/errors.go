package parse

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDeferred is the control signal raised when a file's evaluation cannot
// complete until another target has been built. It is not a failure: the
// file is retried from scratch once the host reports the dependency ready.
// It must never escape a host-facing boundary as a plain error.
var ErrDeferred = errors.New("parse deferred")

// ErrorClass classifies a parse failure for diagnostics and host handling.
type ErrorClass string

const (
	// ClassSyntax means the source could not be compiled at all.
	// Fatal for the file, reported with a line number, never retried.
	ClassSyntax ErrorClass = "syntax"

	// ClassBannedConstruct means the source uses a construct the sandbox
	// forbids at the top level. Treated like a syntax error.
	ClassBannedConstruct ErrorClass = "banned_construct"

	// ClassDomain means configuration logic raised an error, or a bridge
	// call failed. Aborts the file, surfaced to the host, not retried.
	ClassDomain ErrorClass = "domain"

	// ClassDuplicateTarget means a target name was declared twice in one
	// package. A specialisation of ClassDomain so the host can give a
	// clearer diagnostic.
	ClassDuplicateTarget ErrorClass = "duplicate_target"
)

// Error is a classified parse failure with source context.
type Error struct {
	// Class is the failure classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// File is the source file being evaluated, if known.
	File string `json:"file,omitempty"`

	// Line is the 1-based source line, if known.
	Line int `json:"line,omitempty"`

	// Package is the package being evaluated, if known.
	Package string `json:"package,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface. The underlying cause is appended
// unless the message already embeds it, so wrapped errors keep their detail
// in the payload surfaced to the host.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		switch cause := e.Err.Error(); {
		case msg == "":
			msg = cause
		case !strings.Contains(msg, cause):
			msg = msg + ": " + cause
		}
	}
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, msg)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, msg)
	case e.Package != "":
		return fmt.Sprintf("//%s: %s", e.Package, msg)
	default:
		return msg
	}
}

// Unwrap returns the underlying error for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by class, so callers can compare against a bare
// &Error{Class: ...} template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithFile attaches source file context to the error.
func (e *Error) WithFile(file string) *Error {
	e.File = file
	return e
}

// WithLine attaches a source line to the error.
func (e *Error) WithLine(line int) *Error {
	e.Line = line
	return e
}

// WithPackage attaches package context to the error.
func (e *Error) WithPackage(pkg string) *Error {
	e.Package = pkg
	return e
}

// NewSyntaxError creates a syntax error for a file and line.
func NewSyntaxError(file string, line int, message string) *Error {
	return &Error{Class: ClassSyntax, Message: message, File: file, Line: line}
}

// NewBannedConstructError creates a banned-construct error for a file and line.
func NewBannedConstructError(file string, line int, message string) *Error {
	return &Error{Class: ClassBannedConstruct, Message: message, File: file, Line: line}
}

// NewDomainError creates a domain error raised by configuration logic or a
// failed bridge call.
func NewDomainError(message string, err error) *Error {
	return &Error{Class: ClassDomain, Message: message, Err: err}
}

// NewDomainErrorf creates a domain error with a formatted message.
func NewDomainErrorf(format string, args ...interface{}) *Error {
	return &Error{Class: ClassDomain, Message: fmt.Sprintf(format, args...)}
}

// NewDuplicateTargetError creates a duplicate-target error.
func NewDuplicateTargetError(pkg, name string) *Error {
	return &Error{
		Class:   ClassDuplicateTarget,
		Message: fmt.Sprintf("target %q is already declared in this package", name),
		Package: pkg,
	}
}

// IsDuplicateTarget reports whether err is a duplicate-target error.
func IsDuplicateTarget(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassDuplicateTarget
	}
	return false
}

// IsSyntax reports whether err is a syntax or banned-construct error.
func IsSyntax(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassSyntax || e.Class == ClassBannedConstruct
	}
	return false
}

// IsDomain reports whether err is a domain error (including duplicates).
func IsDomain(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassDomain || e.Class == ClassDuplicateTarget
	}
	return false
}
