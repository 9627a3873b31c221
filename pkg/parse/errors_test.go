package parse

import (
	"fmt"
	"strings"
	"testing"
)

func TestErrorIncludesCause(t *testing.T) {
	cause := fmt.Errorf(`"srcs" argument should be a list of strings, not a string`)
	err := NewDomainError("invalid target declaration", cause).WithFile("pkg/BUILD")
	got := err.Error()
	if !strings.Contains(got, "invalid target declaration") {
		t.Fatalf("Error() = %q, lost the message", got)
	}
	if !strings.Contains(got, "should be a list of strings, not a string") {
		t.Fatalf("Error() = %q, lost the cause", got)
	}
}

func TestErrorDoesNotRepeatEmbeddedCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewDomainError("evaluation failed: boom", cause)
	if got := err.Error(); strings.Count(got, "boom") != 1 {
		t.Fatalf("Error() = %q, want the cause stated once", got)
	}
}

func TestErrorWithEmptyMessageUsesCause(t *testing.T) {
	err := NewDomainError("", fmt.Errorf("boom"))
	if got := err.Error(); got != "boom" {
		t.Fatalf("Error() = %q, want boom", got)
	}
}
