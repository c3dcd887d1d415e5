package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Store is the process-wide configuration tree.
//
// It has no lock: steps run one at a time, and lookups happen either at
// resolution time or inside the single running step.
type Store struct {
	root *Map
}

func NewStore(root *Map) *Store {
	if root == nil {
		root = NewMap()
	}
	return &Store{root: root}
}

func (s *Store) Root() *Map {
	return s.root
}

// Get returns the raw value at path. References met on the way down are
// followed; the value itself is returned unresolved.
func (s *Store) Get(path string) (any, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return s.GetPath(p)
}

func (s *Store) GetPath(p Path) (any, error) {
	r := newResolution(s)
	return r.walk(p)
}

func (s *Store) Has(path string) bool {
	_, err := s.Get(path)
	return err == nil
}

// Lookup returns the value at path with every reference substituted.
// Substitution happens on every call, so a change to a referenced value is
// visible to the next Lookup.
func (s *Store) Lookup(path string) (any, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return s.LookupPath(p)
}

func (s *Store) LookupPath(p Path) (any, error) {
	r := newResolution(s)
	return r.deref(Ref{Path: p})
}

// Resolve returns a deep copy of v with every Ref and Template substituted.
func (s *Store) Resolve(v any) (any, error) {
	r := newResolution(s)
	return r.value(v)
}

// LookupMap is Lookup for values that must be mappings. A missing path
// yields (nil, nil).
func (s *Store) LookupMap(path string) (*Map, error) {
	v, err := s.Lookup(path)
	if err != nil {
		if errors.Is(err, ErrMissingConfig) {
			return nil, nil
		}
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, fmt.Errorf("config %s: expected a mapping, got %T", path, v)
	}
	return m, nil
}

// Set stores v at path, creating intermediate mappings as needed. List
// elements can be replaced but lists are never grown.
func (s *Store) Set(path string, v any) error {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	var cur any = s.root
	for i, seg := range p {
		last := i == len(p)-1
		switch node := cur.(type) {
		case *Map:
			if last {
				node.Set(seg, v)
				return nil
			}
			next, ok := node.Get(seg)
			if !ok || next == nil {
				next = NewMap()
				node.Set(seg, next)
			}
			cur = next
		case []any:
			idx, ok := listIndex(seg, len(node))
			if !ok {
				return fmt.Errorf("set %s: index %s out of range", path, seg)
			}
			if last {
				node[idx] = v
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("set %s: %s is a %T, not a mapping", path, Path(p[:i]).String(), cur)
		}
	}
	return nil
}

// TargetNames lists the targets declared under a task section: every key
// except "options" and keys starting with an underscore.
func (s *Store) TargetNames(taskName string) ([]string, error) {
	v, err := s.Get(taskName)
	if err != nil {
		if errors.Is(err, ErrMissingConfig) {
			return nil, nil
		}
		return nil, err
	}
	if v, err = newResolution(s).follow(v); err != nil {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, fmt.Errorf("config %s: expected a mapping of targets, got %T", taskName, v)
	}
	var out []string
	for _, k := range m.Keys() {
		if k == "options" || strings.HasPrefix(k, "_") {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// resolution carries the stack of paths being dereferenced for one call.
type resolution struct {
	store   *Store
	stack   []string
	onStack map[string]bool
}

func newResolution(s *Store) *resolution {
	return &resolution{store: s, onStack: make(map[string]bool)}
}

func (r *resolution) deref(ref Ref) (any, error) {
	key := ref.Path.String()
	if r.onStack[key] {
		chain := []string{key}
		for i := len(r.stack) - 1; i >= 0; i-- {
			chain = append([]string{r.stack[i]}, chain...)
			if r.stack[i] == key {
				break
			}
		}
		return nil, &ConfigCycleError{Chain: chain}
	}
	r.stack = append(r.stack, key)
	r.onStack[key] = true
	defer func() {
		r.stack = r.stack[:len(r.stack)-1]
		delete(r.onStack, key)
	}()

	raw, err := r.walk(ref.Path)
	if err != nil {
		return nil, err
	}
	return r.value(raw)
}

func (r *resolution) walk(p Path) (any, error) {
	var cur any = r.store.root
	for _, seg := range p {
		var err error
		if cur, err = r.follow(cur); err != nil {
			return nil, err
		}
		switch node := cur.(type) {
		case *Map:
			next, ok := node.Get(seg)
			if !ok {
				return nil, &MissingConfigError{Path: p.String()}
			}
			cur = next
		case []any:
			idx, ok := listIndex(seg, len(node))
			if !ok {
				return nil, &MissingConfigError{Path: p.String()}
			}
			cur = node[idx]
		default:
			return nil, &MissingConfigError{Path: p.String()}
		}
	}
	return cur, nil
}

// follow dereferences a Ref or single-reference Template met mid-path.
func (r *resolution) follow(v any) (any, error) {
	switch val := v.(type) {
	case Ref:
		return r.deref(val)
	case Template:
		if len(val.Parts) == 1 {
			if ref, ok := val.Parts[0].(Ref); ok {
				return r.deref(ref)
			}
		}
	}
	return v, nil
}

func (r *resolution) value(v any) (any, error) {
	switch val := v.(type) {
	case Ref:
		return r.deref(val)
	case Template:
		return r.template(val)
	case *Map:
		out := NewMap()
		for _, k := range val.keys {
			resolved, err := r.value(val.values[k])
			if err != nil {
				return nil, err
			}
			out.Set(k, resolved)
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.value(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *resolution) template(t Template) (any, error) {
	if len(t.Parts) == 1 {
		if ref, ok := t.Parts[0].(Ref); ok {
			return r.deref(ref)
		}
	}
	var sb strings.Builder
	for _, p := range t.Parts {
		switch part := p.(type) {
		case string:
			sb.WriteString(part)
		case Ref:
			v, err := r.deref(part)
			if err != nil {
				return nil, err
			}
			sb.WriteString(render(v))
		}
	}
	return sb.String(), nil
}

// render formats a resolved value for interpolation into a string. Lists
// are joined with commas.
func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = render(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
