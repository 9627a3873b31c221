package parse

import "testing"

func TestSandboxInitializesOnce(t *testing.T) {
	// The universe is process-global, so the sandbox may already have been
	// pruned by another test constructing an Evaluator.
	ensureSandbox()
	if err := initializeSandbox(); err == nil {
		t.Fatal("initializeSandbox() succeeded twice")
	}
}
