package config

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// RefTag marks a scalar as a typed reference: `files: !ref lessTargets`.
const RefTag = "!ref"

// Load parses a YAML document into a Map. An empty document yields an
// empty Map.
func Load(r io.Reader) (*Map, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return NewMap(), nil
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return MapFromNode(&doc)
}

// MapFromNode converts a mapping node (or a document holding one).
// A zero node yields an empty Map.
func MapFromNode(node *yaml.Node) (*Map, error) {
	if node == nil || node.Kind == 0 {
		return NewMap(), nil
	}
	v, err := FromNode(node)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return NewMap(), nil
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, fmt.Errorf("config root must be a mapping, got %T", v)
	}
	return m, nil
}

// FromNode converts a yaml.v3 node tree into config values. The node API is
// used instead of decoding into map[string]any so that key order and the
// !ref tag survive. An alias that points into its own anchored node is a
// ConfigCycleError.
func FromNode(node *yaml.Node) (any, error) {
	d := &nodeDecoder{anchors: make(map[*yaml.Node]bool)}
	return d.convert(node)
}

// nodeDecoder tracks the anchored nodes currently being converted.
type nodeDecoder struct {
	anchors map[*yaml.Node]bool
}

func (d *nodeDecoder) convert(node *yaml.Node) (any, error) {
	if node.Anchor != "" {
		d.anchors[node] = true
		defer delete(d.anchors, node)
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return d.convert(node.Content[0])
	case yaml.AliasNode:
		if node.Alias == nil {
			return nil, fmt.Errorf("line %d: unknown anchor %q", node.Line, node.Value)
		}
		if d.anchors[node.Alias] {
			return nil, fmt.Errorf("line %d: %w", node.Line,
				&ConfigCycleError{Chain: []string{"&" + node.Value, "*" + node.Value}})
		}
		return d.convert(node.Alias)
	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
			}
			if k.Tag == "!!merge" {
				if err := d.mergeInto(m, v); err != nil {
					return nil, err
				}
				continue
			}
			val, err := d.convert(v)
			if err != nil {
				return nil, err
			}
			m.Set(k.Value, val)
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			val, err := d.convert(item)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case yaml.ScalarNode:
		return scalar(node)
	default:
		return nil, fmt.Errorf("line %d: unsupported YAML node kind %d", node.Line, node.Kind)
	}
}

func (d *nodeDecoder) mergeInto(m *Map, v *yaml.Node) error {
	src, err := d.convert(v)
	if err != nil {
		return err
	}
	switch val := src.(type) {
	case *Map:
		for _, k := range val.Keys() {
			if _, exists := m.Get(k); !exists {
				item, _ := val.Get(k)
				m.Set(k, item)
			}
		}
	case []any:
		for _, item := range val {
			sub, ok := item.(*Map)
			if !ok {
				return fmt.Errorf("line %d: merge value must be a mapping", v.Line)
			}
			for _, k := range sub.Keys() {
				if _, exists := m.Get(k); !exists {
					x, _ := sub.Get(k)
					m.Set(k, x)
				}
			}
		}
	default:
		return fmt.Errorf("line %d: merge value must be a mapping", v.Line)
	}
	return nil
}

func scalar(node *yaml.Node) (any, error) {
	if node.Tag == RefTag {
		p, err := ParsePath(node.Value)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return Ref{Path: p}, nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, fmt.Errorf("line %d: %w", node.Line, err)
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	tmpl, hasRefs, err := ParseTemplate(s)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", node.Line, err)
	}
	if !hasRefs {
		if len(tmpl.Parts) == 0 {
			return "", nil
		}
		return tmpl.Parts[0], nil
	}
	return tmpl, nil
}
