package parse

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/starlark"
)

// ConfigStore holds the package-scoped settings exposed to BUILD files as
// CONFIG. The evaluator owns one global template seeded by the host; each
// package environment takes a copy-on-write snapshot so package-level
// overrides never leak back into the template or into other packages.
//
// Once the first target has been declared in a package, that package's store
// is frozen and any further override fails with a domain error.
type ConfigStore struct {
	mu     sync.RWMutex
	values map[string]starlark.Value
	frozen bool
}

// NewConfigStore creates a store seeded with the settings every package can
// override, mirroring the defaults the assembler falls back to.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		values: map[string]starlark.Value{
			"DEFAULT_VISIBILITY": starlark.None,
			"DEFAULT_LICENCES":   starlark.None,
			"DEFAULT_TESTONLY":   starlark.Bool(false),
		},
	}
}

// Set seeds a value from the host. Repeated sets of the same name accumulate
// into a list, which makes multi-valued host settings convenient to express
// over a single-value call. A falsy existing value (an unset default like
// None or False, or an empty string) is replaced outright rather than paired
// into a list that would then read as truthy.
func (c *ConfigStore) Set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.values[name]
	if list, isList := existing.(*starlark.List); ok && isList {
		elems := make([]starlark.Value, 0, list.Len()+1)
		for i := 0; i < list.Len(); i++ {
			elems = append(elems, list.Index(i))
		}
		elems = append(elems, starlark.String(value))
		c.values[name] = starlark.NewList(elems)
		return
	}
	if ok && bool(existing.Truth()) {
		c.values[name] = starlark.NewList([]starlark.Value{existing, starlark.String(value)})
		return
	}
	c.values[name] = starlark.String(value)
}

// Get returns the value for a setting name.
func (c *ConfigStore) Get(name string) (starlark.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

// GetString returns a setting as a plain string, or empty if unset or not a
// string.
func (c *ConfigStore) GetString(name string) string {
	if v, ok := c.Get(name); ok {
		if s, isStr := v.(starlark.String); isStr {
			return string(s)
		}
	}
	return ""
}

// Copy returns an independent snapshot of the store. The snapshot starts
// unfrozen regardless of the source's state.
func (c *ConfigStore) Copy() *ConfigStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	values := make(map[string]starlark.Value, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	return &ConfigStore{values: values}
}

// Override applies a package-level setting override. The key is
// case-normalised to uppercase; overriding a key the store has never seen is
// an error, mirroring the strictness of the package() primitive.
func (c *ConfigStore) Override(key string, value starlark.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return NewDomainErrorf("the config store is frozen once a target has been declared; move package() calls above any build rules")
	}
	k := strings.ToUpper(key)
	if _, ok := c.values[k]; !ok {
		return NewDomainErrorf("error calling package(): %s is not a known config value", k)
	}
	c.values[k] = value
	return nil
}

// Freeze disables further overrides. Called by the target assembler when the
// first target of the package is created.
func (c *ConfigStore) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Frozen reports whether the store no longer accepts overrides.
func (c *ConfigStore) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// Names returns the known setting names, sorted.
func (c *ConfigStore) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// configValue exposes a ConfigStore to Starlark as the CONFIG value. It
// supports both attribute access (CONFIG.DEFAULT_VISIBILITY) and mapping
// access (CONFIG['DEFAULT_VISIBILITY']), plus a dict-style get() method.
type configValue struct {
	store *ConfigStore
}

var (
	_ starlark.Value    = (*configValue)(nil)
	_ starlark.HasAttrs = (*configValue)(nil)
	_ starlark.Mapping  = (*configValue)(nil)
)

func (cv *configValue) String() string        { return "CONFIG" }
func (cv *configValue) Type() string          { return "config" }
func (cv *configValue) Truth() starlark.Bool  { return starlark.True }
func (cv *configValue) Freeze()               {}
func (cv *configValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: config") }

// Attr implements attribute access on CONFIG.
func (cv *configValue) Attr(name string) (starlark.Value, error) {
	if name == "get" {
		return starlark.NewBuiltin("get", cv.get), nil
	}
	if v, ok := cv.store.Get(name); ok {
		return v, nil
	}
	return nil, nil
}

// AttrNames lists the available attributes.
func (cv *configValue) AttrNames() []string {
	return append(cv.store.Names(), "get")
}

// Get implements mapping access on CONFIG.
func (cv *configValue) Get(k starlark.Value) (starlark.Value, bool, error) {
	key, ok := k.(starlark.String)
	if !ok {
		return nil, false, fmt.Errorf("config keys must be strings, not %s", k.Type())
	}
	v, found := cv.store.Get(string(key))
	return v, found, nil
}

// get implements CONFIG.get(name, default=None).
func (cv *configValue) get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	fallback := starlark.Value(starlark.None)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &fallback); err != nil {
		return nil, err
	}
	if v, ok := cv.store.Get(name); ok {
		return v, nil
	}
	return fallback, nil
}
