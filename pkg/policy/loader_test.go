package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
	return path
}

func TestLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "one.rego", "package quarry.policies.one\n")
	writePolicyFile(t, dir, "nested/two.rego", "package quarry.policies.two\n")
	writePolicyFile(t, dir, "notes.txt", "not a policy")

	loader := NewLoader(nil)
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2: %v", len(policies), policies)
	}
	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
		if !p.Enabled {
			t.Errorf("policy %s loaded disabled", p.Name)
		}
	}
	if !names["one"] || !names["two"] {
		t.Errorf("names = %v, want one and two", names)
	}
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "strict.rego", "package quarry.policies.strict\n")

	loader := NewLoader(nil)
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "strict" {
		t.Fatalf("policies = %v, want just strict", policies)
	}
}

func TestLoadMissingPath(t *testing.T) {
	loader := NewLoader(nil)
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/no/such/path"}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestParseHeaderComments(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantDesc string
		wantSev  Severity
	}{
		{
			name:     "description and severity",
			src:      "# Flags oversized timeouts.\n# severity: error\npackage p\n",
			wantDesc: "Flags oversized timeouts.",
			wantSev:  SeverityError,
		},
		{
			name:     "multi-line description",
			src:      "# First line.\n# Second line.\npackage p\n",
			wantDesc: "First line. Second line.",
		},
		{
			name: "no header",
			src:  "package p\n\n# trailing comment ignored\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := parseHeaderComments(tt.src)
			if desc != tt.wantDesc {
				t.Errorf("description = %q, want %q", desc, tt.wantDesc)
			}
			if sev != tt.wantSev {
				t.Errorf("severity = %q, want %q", sev, tt.wantSev)
			}
		})
	}
}

func TestLoaderDefaultSeverity(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "plain.rego", "package quarry.policies.plain\n")

	loader := NewLoader(nil)
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("severity = %s, want the warning default", policies[0].Severity)
	}
}

func TestLoaderCache(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "cached.rego", "# Original.\npackage quarry.policies.cached\n")

	loader := NewLoader(nil)
	first, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	// A change on disk is invisible until the cache entry is dropped.
	writePolicyFile(t, dir, "cached.rego", "# Updated.\npackage quarry.policies.cached\n")
	second, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if second[0].Description != first[0].Description {
		t.Errorf("cache miss: description = %q", second[0].Description)
	}

	loader.ClearCache()
	third, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if third[0].Description != "Updated." {
		t.Errorf("description after cache clear = %q, want Updated.", third[0].Description)
	}
}
