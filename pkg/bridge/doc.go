// Package bridge defines the fixed call boundary between the BUILD file
// evaluator and the host dependency-graph engine.
//
// The boundary is deliberately narrow and versioned by convention rather than
// by wire format: the evaluator talks to the host exclusively through the
// Host interface (create a target, attach values to it, register build
// callbacks, resolve include files, log), and the host drives the evaluator
// exclusively through the Evaluator interface (parse a file, parse an
// internally-generated snippet, seed a configuration value, invoke a
// registered callback by handle).
//
// Some host answers are strings carrying in-band signals: the deferral
// sentinel means "this file cannot be evaluated yet, retry later", and an
// error prefix marks a lookup failure whose remaining text is the message.
// Helpers in this package encode and decode those conventions so neither
// side hardcodes the markers.
package bridge
