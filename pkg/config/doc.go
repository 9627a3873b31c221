// Package config loads the quarry.yaml profile.
//
// A profile carries everything outside BUILD files: the BUILD filename,
// parallelism, per-target defaults (visibility, licences, test-only),
// policy and store settings, logging, and arbitrary extra values. Documents
// are checked against an embedded CUE schema before decoding, then the
// decoded struct is validated; unknown keys are rejected with a position.
//
// Profile.Seed pushes the profile into a running evaluator's CONFIG store,
// where BUILD files read it as CONFIG.OS, CONFIG.DEFAULT_VISIBILITY and so
// on.
package config
