package parse

import (
	"testing"

	"go.starlark.net/starlark"
)

func testCallable(name string) starlark.Callable {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return starlark.None, nil
	})
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	h1 := r.Register(testCallable("pre"), "pkg:a")
	h2 := r.Register(testCallable("post"), "pkg:a")
	h3 := r.Register(testCallable("pre"), "pkg:b")

	if h1 == h2 || h1 == h3 {
		t.Fatal("Register() returned duplicate handles")
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	if _, ok := r.Lookup(h1); !ok {
		t.Fatal("Lookup() missed a registered handle")
	}

	r.ReleaseTarget("pkg:a")
	if r.Len() != 1 {
		t.Fatalf("Len() = %d after release, want 1", r.Len())
	}
	if _, ok := r.Lookup(h1); ok {
		t.Fatal("Lookup() found a released handle")
	}
	if _, ok := r.Lookup(h3); !ok {
		t.Fatal("release of pkg:a dropped pkg:b's callback")
	}
}

func TestRegistryUnknownHandle(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("nope"); ok {
		t.Fatal("Lookup() found an unregistered handle")
	}
}
