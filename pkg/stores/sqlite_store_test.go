package stores

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quarrybuild/quarry/pkg/bridge"
	"github.com/quarrybuild/quarry/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "quarry.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

// buildTestGraph declares a small graph through the host: a library, a
// binary and a test across two packages.
func buildTestGraph(t *testing.T) *engine.Graph {
	t.Helper()
	host := engine.NewHost(t.TempDir(), engine.HostOptions{})

	src := engine.NewPackage("src", "src/BUILD")
	lib, err := host.CreateTarget(src, bridge.TargetSpec{Name: "lib", Command: "cc"})
	if err != nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}
	if err := host.AddOutput(lib, "lib.a"); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	if _, err := host.CreateTarget(src, bridge.TargetSpec{Name: "bin", Command: "ld", Binary: true}); err != nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}
	if err := host.Graph().Commit(src); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	tests := engine.NewPackage("tests", "tests/BUILD")
	if _, err := host.CreateTarget(tests, bridge.TargetSpec{Name: "lib_test", Command: "cc", TestCommand: "run", Test: true, TestTimeout: 60}); err != nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}
	if err := host.Graph().Commit(tests); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return host.Graph()
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	graph := buildTestGraph(t)

	report := &engine.Report{
		SessionID: "run-1",
		Packages:  2,
		Targets:   3,
		Rounds:    1,
		Duration:  1500 * time.Millisecond,
	}
	if err := store.SaveRun(ctx, NewRun(report, "/repo"), graph); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusOK || run.Packages != 2 || run.Targets != 3 {
		t.Errorf("run = %+v", run)
	}
	if run.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", run.Duration)
	}
	if run.Error != nil {
		t.Errorf("Error = %v, want nil for a clean run", *run.Error)
	}
}

func TestSaveRunRecordsFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := &engine.Report{
		SessionID: "run-bad",
		Failures: map[string]error{
			"bad":   errors.New("syntax error"),
			"worse": errors.New("duplicate target"),
		},
	}
	if err := store.SaveRun(ctx, NewRun(report, "/repo"), engine.NewGraph()); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-bad")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusFailed || run.Error == nil {
		t.Fatalf("run = %+v, want a failed run with an error", run)
	}
	if !strings.Contains(*run.Error, "//bad: syntax error") {
		t.Errorf("Error = %q", *run.Error)
	}
	// Failures are summarized in a stable order.
	if strings.Index(*run.Error, "//bad") > strings.Index(*run.Error, "//worse") {
		t.Errorf("failures out of order: %q", *run.Error)
	}
}

func TestQueryTargets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	graph := buildTestGraph(t)

	report := &engine.Report{SessionID: "run-1", Packages: 2, Targets: 3, Rounds: 1}
	if err := store.SaveRun(ctx, NewRun(report, "/repo"), graph); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	all, err := store.ListTargets(ctx, "run-1", nil, nil)
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("targets = %d, want 3", len(all))
	}

	kind := "test"
	testTargets, err := store.ListTargets(ctx, "run-1", &kind, nil)
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(testTargets) != 1 || testTargets[0].Name != "lib_test" {
		t.Errorf("test targets = %v", testTargets)
	}

	pkg := "src"
	srcTargets, err := store.ListTargets(ctx, "run-1", nil, &pkg)
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(srcTargets) != 2 {
		t.Errorf("src targets = %d, want 2", len(srcTargets))
	}

	row, err := store.GetTarget(ctx, "run-1", engine.Label{Package: "src", Name: "lib"})
	if err != nil {
		t.Fatalf("GetTarget failed: %v", err)
	}
	target, err := row.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if target.Command != "cc" || len(target.Outputs) != 1 || target.Outputs[0] != "lib.a" {
		t.Errorf("decoded target = %+v", target)
	}
}

func TestListPackages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := &engine.Report{SessionID: "run-1", Packages: 2, Targets: 3, Rounds: 1}
	if err := store.SaveRun(ctx, NewRun(report, "/repo"), buildTestGraph(t)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	packages, err := store.ListPackages(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListPackages failed: %v", err)
	}
	if len(packages) != 2 || packages[0].Name != "src" || packages[1].Name != "tests" {
		t.Errorf("packages = %v", packages)
	}
	if packages[0].Filename != "src/BUILD" {
		t.Errorf("Filename = %q", packages[0].Filename)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		run := &Run{ID: id, Root: "/repo", Status: RunStatusOK, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.SaveRun(ctx, run, engine.NewGraph()); err != nil {
			t.Fatalf("SaveRun(%s) failed: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("runs = %v", runs)
	}

	rest, err := store.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "old" {
		t.Errorf("rest = %v", rest)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := &engine.Report{SessionID: "run-1", Packages: 2, Targets: 3, Rounds: 1}
	if err := store.SaveRun(ctx, NewRun(report, "/repo"), buildTestGraph(t)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	if _, err := store.GetRun(ctx, "run-1"); err == nil {
		t.Error("run still present after delete")
	}
	targets, err := store.ListTargets(ctx, "run-1", nil, nil)
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("targets survived the cascade: %v", targets)
	}

	if err := store.DeleteRun(ctx, "run-1"); err == nil {
		t.Error("expected error deleting a missing run")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestDuplicateRunRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := &Run{ID: "run-1", Root: "/repo", Status: RunStatusOK}

	if err := store.SaveRun(ctx, run, engine.NewGraph()); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.SaveRun(ctx, run, engine.NewGraph()); err == nil {
		t.Error("expected error saving a duplicate run ID")
	}
}
