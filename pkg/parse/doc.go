// Package parse evaluates BUILD files and reports the targets they declare
// to a host through the bridge interfaces.
//
// BUILD files are written in a restricted Starlark dialect: the universal
// builtins are pruned to a fixed allowlist, load() and print are rejected
// outright, and all interaction with the build graph goes through the
// primitives the evaluator predeclares (build_rule, filegroup, subinclude
// and friends). Each file evaluates in an isolated environment cloned from a
// shared template, so files can be parsed concurrently and nothing one file
// defines leaks into another.
//
// A file whose evaluation needs the output of a target that has not been
// built yet is deferred, not failed: the evaluator abandons the attempt
// without observable side effects and the host retries the file once the
// dependency is ready.
package parse
