// Package config holds the configuration tree that task targets read from.
//
// Values stored in the tree are one of nil, bool, int, float64, string,
// []any, *Map, Ref or Template. Ref and Template are typed references to
// other paths in the same tree; they are substituted by Store.Resolve.
package config

import (
	"fmt"
	"strings"
)

// Map is an insertion-ordered string-keyed mapping. Order matters because
// the keys of a task's section are its targets, and targets run in
// declaration order.
type Map struct {
	keys   []string
	values map[string]any
}

func NewMap() *Map {
	return &Map{values: make(map[string]any)}
}

// MapOf builds a Map from alternating key/value pairs. It panics on an odd
// argument count or a non-string key; it is meant for literals in code.
func MapOf(kv ...any) *Map {
	if len(kv)%2 != 0 {
		panic("config.MapOf: odd number of arguments")
	}
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("config.MapOf: key %v is not a string", kv[i]))
		}
		m.Set(key, kv[i+1])
	}
	return m
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Set stores v under key. An existing key keeps its position.
func (m *Map) Set(key string, v any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Plain converts the map into nested map[string]any / []any values, the
// shape expected by encoding/json and text/template.
func (m *Map) Plain() map[string]any {
	out := make(map[string]any, m.Len())
	if m == nil {
		return out
	}
	for _, k := range m.keys {
		out[k] = plain(m.values[k])
	}
	return out
}

func plain(v any) any {
	switch val := v.(type) {
	case *Map:
		return val.Plain()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case Ref:
		return val.String()
	case Template:
		return val.String()
	default:
		return v
	}
}

// Ref is a typed reference to another path of the tree. In YAML it is
// written with the !ref tag: `files: !ref lessTargets`.
type Ref struct {
	Path Path
}

func RefTo(path string) Ref {
	p, err := ParsePath(path)
	if err != nil {
		panic(fmt.Sprintf("config.RefTo: %v", err))
	}
	return Ref{Path: p}
}

func (r Ref) String() string {
	return "${" + r.Path.String() + "}"
}

// Template is a string with embedded references. Parts are either string
// literals or Ref values.
type Template struct {
	Parts []any
}

func (t Template) String() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		switch part := p.(type) {
		case string:
			sb.WriteString(strings.ReplaceAll(part, "$", "$$"))
		case Ref:
			sb.WriteString(part.String())
		}
	}
	return sb.String()
}

// ParseTemplate splits s on ${path} placeholders. `$$` is a literal `$`.
// The second return value reports whether s contained any placeholder.
func ParseTemplate(s string) (Template, bool, error) {
	var (
		parts   []any
		literal strings.Builder
		hasRefs bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			literal.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '$':
			literal.WriteByte('$')
			i++
		case '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return Template{}, false, fmt.Errorf("unterminated placeholder in %q", s)
			}
			path, err := ParsePath(strings.TrimSpace(s[i+2 : i+2+end]))
			if err != nil {
				return Template{}, false, fmt.Errorf("placeholder in %q: %w", s, err)
			}
			if literal.Len() > 0 {
				parts = append(parts, literal.String())
				literal.Reset()
			}
			parts = append(parts, Ref{Path: path})
			hasRefs = true
			i += end + 2
		default:
			literal.WriteByte(c)
		}
	}
	if literal.Len() > 0 {
		parts = append(parts, literal.String())
	}
	return Template{Parts: parts}, hasRefs, nil
}
