package parse

import (
	"fmt"

	"go.starlark.net/starlark"
)

// toStarlark converts a Go value to a Starlark value. Used when seeding the
// template environment and when handing build output back to callbacks.
func toStarlark(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			conv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = conv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			conv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// isNone reports whether a value is absent (nil pointer or Starlark None).
func isNone(v starlark.Value) bool {
	return v == nil || v == starlark.None
}

// asString unwraps a Starlark string.
func asString(v starlark.Value) (string, bool) {
	s, ok := v.(starlark.String)
	return string(s), ok
}

// stringList coerces an argument into a list of strings. None yields nil. A
// bare string is rejected explicitly because it iterates like a sequence of
// characters and produces baffling results downstream.
func stringList(v starlark.Value, arg string) ([]string, error) {
	if isNone(v) {
		return nil, nil
	}
	if _, isStr := v.(starlark.String); isStr {
		return nil, fmt.Errorf("%q argument should be a list of strings, not a string", arg)
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%q argument should be a list of strings, not %s", arg, v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []string
	var x starlark.Value
	for iter.Next(&x) {
		s, isStr := asString(x)
		if !isStr {
			return nil, fmt.Errorf("%q argument contains a %s, expected only strings", arg, x.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

// stringMap coerces a dict argument with string keys and string values, e.g.
// per-configuration command mappings.
func stringMap(v starlark.Value, arg string) (map[string]string, error) {
	mapping, ok := v.(starlark.IterableMapping)
	if !ok {
		return nil, fmt.Errorf("%q argument should be a dict, not %s", arg, v.Type())
	}
	out := make(map[string]string)
	for _, item := range mapping.Items() {
		k, kOK := asString(item[0])
		val, vOK := asString(item[1])
		if !kOK || !vOK {
			return nil, fmt.Errorf("%q argument must map strings to strings", arg)
		}
		out[k] = val
	}
	return out, nil
}

// namedStringLists coerces a dict argument mapping group names to lists of
// strings, e.g. named source groups.
func namedStringLists(v starlark.Value, arg string) (map[string][]string, error) {
	mapping, ok := v.(starlark.IterableMapping)
	if !ok {
		return nil, fmt.Errorf("%q argument should be a dict, not %s", arg, v.Type())
	}
	out := make(map[string][]string)
	for _, item := range mapping.Items() {
		k, kOK := asString(item[0])
		if !kOK {
			return nil, fmt.Errorf("%q argument must have string keys", arg)
		}
		list, err := stringList(item[1], fmt.Sprintf("%s[%s]", arg, k))
		if err != nil {
			return nil, err
		}
		out[k] = list
	}
	return out, nil
}

// intOrBool coerces flaky-style arguments: True means a default count,
// False or None mean zero, an int is taken as-is.
func intOrBool(v starlark.Value, trueValue int, arg string) (int, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return 0, nil
	case starlark.Bool:
		if bool(val) {
			return trueValue, nil
		}
		return 0, nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return 0, fmt.Errorf("%q argument is too large", arg)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%q argument should be a bool or an int, not %s", arg, v.Type())
	}
}

// intValue coerces a plain integer argument; None yields zero.
func intValue(v starlark.Value, arg string) (int, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return 0, nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return 0, fmt.Errorf("%q argument is too large", arg)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%q argument should be an int, not %s", arg, v.Type())
	}
}

// boolValue coerces a truthy argument the way Starlark conditionals do.
func boolValue(v starlark.Value) bool {
	if v == nil {
		return false
	}
	return bool(v.Truth())
}
