package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		licenceAllowlistPolicy(),
		visibilityHygienePolicy(),
		testTimeoutPolicy(),
	}
}

// licenceAllowlistPolicy rejects targets declaring licences outside the
// approved set.
func licenceAllowlistPolicy() Policy {
	return Policy{
		Name:        "licence-allowlist",
		Description: "Rejects targets declaring licences outside the approved set",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"licences", "compliance"},
		Rego: `package quarry.policies.licences

import rego.v1

allowed_licences := {
	"MIT",
	"BSD-2-Clause",
	"BSD-3-Clause",
	"Apache-2.0",
	"ISC",
	"MPL-2.0",
}

deny contains violation if {
	some licence in input.target.licences
	not licence in allowed_licences
	violation := {
		"message": sprintf("licence %s is not on the allowlist", [licence]),
		"severity": "error",
	}
}

# Third-party code must say what licence it is under.
deny contains violation if {
	startswith(input.package, "third_party/")
	not input.target.licences
	violation := {
		"message": "third-party targets must declare a licence",
		"severity": "warning",
	}
}`,
	}
}

// visibilityHygienePolicy flags malformed or redundant visibility entries.
func visibilityHygienePolicy() Policy {
	return Policy{
		Name:        "visibility-hygiene",
		Description: "Flags malformed or redundant visibility declarations",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"visibility", "hygiene"},
		Rego: `package quarry.policies.visibility

import rego.v1

deny contains violation if {
	some entry in input.target.visibility
	entry != "PUBLIC"
	not startswith(entry, "//")
	violation := {
		"message": sprintf("malformed visibility entry %q; entries are PUBLIC or //-prefixed labels", [entry]),
		"severity": "error",
	}
}

deny contains violation if {
	"PUBLIC" in input.target.visibility
	count(input.target.visibility) > 1
	violation := {
		"message": "PUBLIC makes the other visibility entries redundant",
		"severity": "warning",
	}
}

# Test-only targets have no business being repo-wide public.
deny contains violation if {
	input.target.test_only
	"PUBLIC" in input.target.visibility
	violation := {
		"message": "test-only targets should not be PUBLIC",
		"severity": "warning",
	}
}`,
	}
}

// testTimeoutPolicy enforces timeout declarations on test targets.
func testTimeoutPolicy() Policy {
	return Policy{
		Name:        "test-timeouts",
		Description: "Enforces sane timeout and flakiness declarations on test targets",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"tests", "timeouts"},
		Rego: `package quarry.policies.tests

import rego.v1

# Seconds; anything longer belongs in a dedicated suite.
max_test_timeout := 600

deny contains violation if {
	input.target.test
	not input.target.test_timeout
	violation := {
		"message": "test target declares no timeout",
		"severity": "warning",
	}
}

deny contains violation if {
	input.target.test_timeout > max_test_timeout
	violation := {
		"message": sprintf("test timeout %ds exceeds the %ds ceiling", [input.target.test_timeout, max_test_timeout]),
		"severity": "error",
	}
}

deny contains violation if {
	input.target.flaky
	not input.target.test
	violation := {
		"message": "flaky is only meaningful on test targets",
		"severity": "warning",
	}
}`,
	}
}
