package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// profileSchema constrains quarry.yaml before it is decoded into a Profile.
// The definition is closed, so unknown top-level keys are rejected with a
// position rather than silently ignored.
const profileSchema = `
#Profile: {
	version?: string
	build_file_name?: string & =~"^[^/]+$"
	max_parallel?: int & >=0 & <=256
	os?: string
	arch?: string
	defaults?: {
		visibility?: [...string]
		licences?: [...string]
		test_only?: bool
	}
	policy?: {
		enabled?: bool
		paths?: [...string]
	}
	store?: {
		path?: string
	}
	logging?: {
		level?: "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		format?: "console" | "json"
		output?: string
	}
	extra?: {[string]: string}
}
`

// validateSchema checks a raw quarry.yaml document against the profile
// schema.
func validateSchema(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	if doc == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(profileSchema).LookupPath(cue.ParsePath("#Profile"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile profile schema: %w", err)
	}

	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	if err := schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("profile schema violation: %s", cueerrors.Details(err, nil))
	}
	return nil
}
