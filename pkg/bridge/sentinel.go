package bridge

import "strings"

// DeferSentinel is returned by the host from a subinclude file lookup when
// the included target has not been built yet. It is a control signal, not an
// error: the evaluator aborts the whole file and the host retries it later.
const DeferSentinel = "_DEFER_"

// errorPrefix marks an in-band error string. Everything after the prefix is
// the human-readable message.
const errorPrefix = "__"

// IsDefer reports whether a host answer is the deferral sentinel.
func IsDefer(s string) bool {
	return s == DeferSentinel
}

// IsErrorString reports whether a host answer carries an in-band error.
func IsErrorString(s string) bool {
	return strings.HasPrefix(s, errorPrefix)
}

// ErrorString encodes a message as an in-band error answer.
func ErrorString(msg string) string {
	return errorPrefix + msg
}

// ErrorMessage decodes the message from an in-band error answer. Only the
// marker itself is stripped; underscores belonging to the message survive.
func ErrorMessage(s string) string {
	return strings.TrimPrefix(s, errorPrefix)
}
