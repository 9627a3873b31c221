package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if p.BuildFileName != "BUILD" {
		t.Errorf("BuildFileName = %q, want BUILD", p.BuildFileName)
	}
	if p.OS != runtime.GOOS || p.Arch != runtime.GOARCH {
		t.Errorf("OS/Arch = %s/%s, want host values", p.OS, p.Arch)
	}
	if p.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", p.Logging.Level)
	}
}

func TestParseFullProfile(t *testing.T) {
	doc := `
version: "2.1"
build_file_name: BUILD.quarry
max_parallel: 16
os: linux
arch: arm64
defaults:
  visibility: ["//..."]
  licences: ["MIT"]
  test_only: true
policy:
  enabled: true
  paths: ["policies"]
store:
  path: quarry.db
logging:
  level: debug
  format: json
extra:
  go_tool: go1.22
`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Version != "2.1" || p.BuildFileName != "BUILD.quarry" || p.MaxParallel != 16 {
		t.Errorf("scalars = %q/%q/%d", p.Version, p.BuildFileName, p.MaxParallel)
	}
	if len(p.Defaults.Visibility) != 1 || p.Defaults.Visibility[0] != "//..." {
		t.Errorf("Defaults.Visibility = %v", p.Defaults.Visibility)
	}
	if !p.Defaults.TestOnly || !p.Policy.Enabled {
		t.Errorf("flags = test_only %v policy %v", p.Defaults.TestOnly, p.Policy.Enabled)
	}
	if p.Store.Path != "quarry.db" || p.Logging.Format != "json" {
		t.Errorf("store/logging = %q/%q", p.Store.Path, p.Logging.Format)
	}
	if p.Extra["go_tool"] != "go1.22" {
		t.Errorf("Extra = %v", p.Extra)
	}
	// Values absent from the document keep their defaults.
	if p.Logging.Output != "stderr" {
		t.Errorf("Logging.Output = %q, want the stderr default", p.Logging.Output)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	p, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.BuildFileName != "BUILD" {
		t.Errorf("BuildFileName = %q, want the default", p.BuildFileName)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "unknown key", doc: "build_flie_name: BUILD\n", wantErr: "schema violation"},
		{name: "bad log level", doc: "logging:\n  level: verbose\n", wantErr: "schema violation"},
		{name: "parallelism out of range", doc: "max_parallel: 1000\n", wantErr: "schema violation"},
		{name: "slash in build file name", doc: "build_file_name: sub/BUILD\n", wantErr: "schema violation"},
		{name: "wrong type", doc: "max_parallel: lots\n", wantErr: "schema violation"},
		{name: "not yaml", doc: ":\n  - {", wantErr: "invalid YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()

	p, err := LoadOrDefault(filepath.Join(dir, DefaultFileName))
	if err != nil {
		t.Fatalf("LoadOrDefault failed for missing file: %v", err)
	}
	if p.BuildFileName != "BUILD" {
		t.Errorf("missing file did not produce defaults: %+v", p)
	}

	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte("version: \"3.0\"\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	p, err = LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if p.Version != "3.0" {
		t.Errorf("Version = %q, want 3.0", p.Version)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
