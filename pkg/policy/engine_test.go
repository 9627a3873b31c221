package policy

import (
	"context"
	"testing"

	"github.com/quarrybuild/quarry/pkg/bridge"
	"github.com/quarrybuild/quarry/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func makeTarget(t *testing.T, mutate func(target *engine.Target)) *engine.Target {
	t.Helper()
	host := engine.NewHost(t.TempDir(), engine.HostOptions{})
	pkg := engine.NewPackage("src", "src/BUILD")
	handle, err := host.CreateTarget(pkg, bridge.TargetSpec{Name: "lib", Command: "cc"})
	if err != nil || handle == nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}
	target := pkg.Target("lib")
	if mutate != nil {
		mutate(target)
	}
	return target
}

func violationsFrom(result *Result, policy string) []Violation {
	var found []Violation
	for _, v := range result.Violations {
		if v.Policy == policy {
			found = append(found, v)
		}
	}
	return found
}

func TestCleanTargetPasses(t *testing.T) {
	e := newTestEngine(t)
	target := makeTarget(t, func(target *engine.Target) {
		target.Licences = []string{"MIT"}
		target.Visibility = []string{"//src/..."}
	})

	result, err := e.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("clean target blocked: %v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("violations = %v, want none", result.Violations)
	}
	if len(result.Evaluated) != len(BuiltinPolicies()) {
		t.Errorf("evaluated %d policies, want %d", len(result.Evaluated), len(BuiltinPolicies()))
	}
}

func TestLicenceAllowlist(t *testing.T) {
	e := newTestEngine(t)
	target := makeTarget(t, func(target *engine.Target) {
		target.Licences = []string{"MIT", "GPL-3.0"}
	})

	result, err := e.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	if result.Allowed {
		t.Error("disallowed licence did not block")
	}
	found := violationsFrom(result, "licence-allowlist")
	if len(found) != 1 {
		t.Fatalf("licence violations = %v, want exactly one", found)
	}
	if found[0].Severity != SeverityError {
		t.Errorf("severity = %s, want error", found[0].Severity)
	}
	if found[0].Target != "//src:lib" {
		t.Errorf("target = %q, want //src:lib", found[0].Target)
	}
}

func TestThirdPartyLicenceRequired(t *testing.T) {
	e := newTestEngine(t)
	host := engine.NewHost(t.TempDir(), engine.HostOptions{})
	pkg := engine.NewPackage("third_party/zlib", "third_party/zlib/BUILD")
	if _, err := host.CreateTarget(pkg, bridge.TargetSpec{Name: "zlib", Command: "cc"}); err != nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}

	result, err := e.EvaluateTarget(context.Background(), pkg.Target("zlib"))
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	found := violationsFrom(result, "licence-allowlist")
	if len(found) != 1 || found[0].Severity != SeverityWarning {
		t.Fatalf("violations = %v, want one warning", found)
	}
	if !result.Allowed {
		t.Error("a warning should not block")
	}
}

func TestVisibilityHygiene(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(target *engine.Target)
		wantCount  int
		wantSev    Severity
		wantBlocks bool
	}{
		{
			name: "malformed entry",
			mutate: func(target *engine.Target) {
				target.Visibility = []string{"src/core"}
			},
			wantCount:  1,
			wantSev:    SeverityError,
			wantBlocks: true,
		},
		{
			name: "redundant public",
			mutate: func(target *engine.Target) {
				target.Visibility = []string{"PUBLIC", "//src/..."}
			},
			wantCount: 1,
			wantSev:   SeverityWarning,
		},
		{
			name: "public test-only",
			mutate: func(target *engine.Target) {
				target.TestOnly = true
				target.Visibility = []string{"PUBLIC"}
			},
			wantCount: 1,
			wantSev:   SeverityWarning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			result, err := e.EvaluateTarget(context.Background(), makeTarget(t, tt.mutate))
			if err != nil {
				t.Fatalf("EvaluateTarget failed: %v", err)
			}
			found := violationsFrom(result, "visibility-hygiene")
			if len(found) != tt.wantCount {
				t.Fatalf("violations = %v, want %d", found, tt.wantCount)
			}
			if found[0].Severity != tt.wantSev {
				t.Errorf("severity = %s, want %s", found[0].Severity, tt.wantSev)
			}
			if result.Allowed == tt.wantBlocks {
				t.Errorf("allowed = %v with %s violation", result.Allowed, tt.wantSev)
			}
		})
	}
}

func TestTestTimeouts(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(target *engine.Target)
		wantSev Severity
	}{
		{
			name: "test without timeout",
			mutate: func(target *engine.Target) {
				target.Test = true
				target.TestCommand = "cc_test"
			},
			wantSev: SeverityWarning,
		},
		{
			name: "timeout over ceiling",
			mutate: func(target *engine.Target) {
				target.Test = true
				target.TestCommand = "cc_test"
				target.TestTimeout = 1200
			},
			wantSev: SeverityError,
		},
		{
			name: "flaky non-test",
			mutate: func(target *engine.Target) {
				target.Flaky = 3
			},
			wantSev: SeverityWarning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			result, err := e.EvaluateTarget(context.Background(), makeTarget(t, tt.mutate))
			if err != nil {
				t.Fatalf("EvaluateTarget failed: %v", err)
			}
			found := violationsFrom(result, "test-timeouts")
			if len(found) != 1 {
				t.Fatalf("violations = %v, want exactly one", found)
			}
			if found[0].Severity != tt.wantSev {
				t.Errorf("severity = %s, want %s", found[0].Severity, tt.wantSev)
			}
		})
	}
}

func TestEvaluateGraph(t *testing.T) {
	e := newTestEngine(t)
	host := engine.NewHost(t.TempDir(), engine.HostOptions{})
	pkg := engine.NewPackage("src", "src/BUILD")

	good, err := host.CreateTarget(pkg, bridge.TargetSpec{Name: "lib", Command: "cc"})
	if err != nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}
	if err := host.AddLicence(good, "MIT"); err != nil {
		t.Fatalf("AddLicence failed: %v", err)
	}
	bad, err := host.CreateTarget(pkg, bridge.TargetSpec{Name: "vendored", Command: "cc"})
	if err != nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}
	if err := host.AddLicence(bad, "WTFPL"); err != nil {
		t.Fatalf("AddLicence failed: %v", err)
	}
	if err := host.Graph().Commit(pkg); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	result, err := e.EvaluateGraph(context.Background(), host.Graph())
	if err != nil {
		t.Fatalf("EvaluateGraph failed: %v", err)
	}
	if result.Allowed {
		t.Error("graph with a licence violation was allowed")
	}
	blocking := result.Blocking()
	if len(blocking) != 1 || blocking[0].Target != "//src:vendored" {
		t.Errorf("blocking = %v, want just //src:vendored", blocking)
	}
}

func TestEnableDisable(t *testing.T) {
	e := newTestEngine(t)
	target := makeTarget(t, func(target *engine.Target) {
		target.Licences = []string{"GPL-3.0"}
	})

	if err := e.DisablePolicy("licence-allowlist"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	result, err := e.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still fired: %v", result.Violations)
	}

	if err := e.EnablePolicy("licence-allowlist"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, err = e.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	if result.Allowed {
		t.Error("re-enabled policy did not fire")
	}

	if err := e.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestLoadCustomPolicy(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	rego := `# Binaries must be visible somewhere outside their package.
# severity: error
package quarry.policies.custom

import rego.v1

deny contains violation if {
	input.target.binary
	not input.target.visibility
	violation := {"message": "binary target has no visibility"}
}`
	writePolicyFile(t, dir, "binary-visibility.rego", rego)

	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	policy, err := e.Policy("binary-visibility")
	if err != nil {
		t.Fatalf("Policy lookup failed: %v", err)
	}
	if policy.Severity != SeverityError {
		t.Errorf("severity = %s, want error from the header comment", policy.Severity)
	}

	target := makeTarget(t, func(target *engine.Target) {
		target.Binary = true
		target.Licences = []string{"MIT"}
	})
	result, err := e.EvaluateTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("EvaluateTarget failed: %v", err)
	}
	found := violationsFrom(result, "binary-visibility")
	if len(found) != 1 {
		t.Fatalf("violations = %v, want the custom policy to fire", result.Violations)
	}
	// No severity in the deny object, so the policy default applies.
	if found[0].Severity != SeverityError {
		t.Errorf("severity = %s, want the policy default", found[0].Severity)
	}
}
