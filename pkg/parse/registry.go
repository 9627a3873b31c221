package parse

import (
	"sync"

	"github.com/google/uuid"
	"github.com/quarrybuild/quarry/pkg/bridge"
	"go.starlark.net/starlark"
)

// callbackEntry binds a registered callback to the target that owns it.
type callbackEntry struct {
	fn     starlark.Callable
	target string
}

// Registry keeps pre- and post-build callbacks reachable for the lifetime of
// their target's build. The host holds only the opaque handle and invokes
// callbacks by handle later, so ownership must be explicit here rather than
// implicit via reachability. Registration is insert-only during a file's own
// evaluation and safe to call concurrently from different file evaluations;
// entries are removed only when the host signals the owning target's build
// lifecycle is complete.
type Registry struct {
	mu      sync.RWMutex
	entries map[bridge.CallbackHandle]callbackEntry
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[bridge.CallbackHandle]callbackEntry)}
}

// Register stores a callback for a target and returns its opaque handle.
func (r *Registry) Register(fn starlark.Callable, target string) bridge.CallbackHandle {
	handle := bridge.CallbackHandle(uuid.NewString())
	r.mu.Lock()
	r.entries[handle] = callbackEntry{fn: fn, target: target}
	r.mu.Unlock()
	return handle
}

// Lookup returns the callback registered under a handle.
func (r *Registry) Lookup(handle bridge.CallbackHandle) (starlark.Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[handle]
	return entry.fn, ok
}

// ReleaseTarget drops all callbacks owned by a target.
func (r *Registry) ReleaseTarget(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for handle, entry := range r.entries {
		if entry.target == target {
			delete(r.entries, handle)
		}
	}
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
