package config

import (
	"fmt"
	"strconv"
)

// The accessors below read resolved values. They are lenient about scalar
// types (a YAML `true` and a CLI override "true" both read as a bool) and
// return the default when the key is absent.

func (m *Map) GetString(key, def string) string {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return def
	}
	return render(v)
}

func (m *Map) GetBool(key string, def bool) bool {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return def
		}
		return b
	case int:
		return val != 0
	default:
		return def
	}
}

// GetStrings reads a list of strings. A single string is a one-element list.
func (m *Map) GetStrings(key string) []string {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return nil
	}
	return AsStrings(v)
}

// Sub returns the nested mapping at key, or nil.
func (m *Map) Sub(key string) *Map {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	sub, _ := v.(*Map)
	return sub
}

func AsStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, AsStrings(item)...)
		}
		return out
	default:
		return []string{render(v)}
	}
}

// MergeOptions overlays the target's options on the task's options, one
// level deep. Either argument may be nil.
func MergeOptions(taskOpts, targetOpts *Map) *Map {
	out := NewMap()
	for _, src := range []*Map{taskOpts, targetOpts} {
		for _, k := range src.Keys() {
			v, _ := src.Get(k)
			out.Set(k, v)
		}
	}
	return out
}

// OptionsOf extracts the "options" mapping of a resolved task or target
// value. Values that are not mappings have no options.
func OptionsOf(v any) (*Map, error) {
	m, ok := v.(*Map)
	if !ok {
		return nil, nil
	}
	raw, ok := m.Get("options")
	if !ok || raw == nil {
		return nil, nil
	}
	opts, ok := raw.(*Map)
	if !ok {
		return nil, fmt.Errorf("options must be a mapping, got %T", raw)
	}
	return opts, nil
}
