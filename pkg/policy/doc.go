// Package policy evaluates Rego rules over declared build targets.
//
// The engine starts with builtin policies (licence allowlist, visibility
// hygiene, test timeout rules) and can load extra .rego files from disk.
// Each enabled policy's deny set is evaluated once per target; a violation
// at error or critical severity fails the check, warnings are reported but
// do not block.
//
// Policies see one target at a time as input, shaped by the target's JSON
// encoding:
//
//	deny contains violation if {
//		some licence in input.target.licences
//		not licence in allowed_licences
//		violation := {"message": sprintf("licence %s not allowed", [licence])}
//	}
package policy
