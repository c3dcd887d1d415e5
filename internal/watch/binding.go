// Package watch re-runs task lists when files matching their bindings
// change.
package watch

import (
	"fmt"
	"path/filepath"

	"github.com/msageha/taskflow/internal/files"
	"github.com/msageha/taskflow/internal/model"
)

// Binding maps file globs to the tasks re-run when one of them changes.
type Binding struct {
	Name  string
	Files []string
	Tasks []string

	include []*files.Pattern
	exclude []*files.Pattern
}

func NewBinding(name string, patterns, tasks []string) (*Binding, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("watch binding %q: no files", name)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("watch binding %q: no tasks", name)
	}
	b := &Binding{Name: name, Files: patterns, Tasks: tasks}
	for _, raw := range patterns {
		p, err := files.CompilePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("watch binding %q: %w", name, err)
		}
		if p.Negated() {
			b.exclude = append(b.exclude, p)
		} else {
			b.include = append(b.include, p)
		}
	}
	return b, nil
}

// BindingsFrom compiles the bindings of a project, keeping their order.
func BindingsFrom(cfg model.BindingList) ([]*Binding, error) {
	out := make([]*Binding, 0, len(cfg))
	for _, c := range cfg {
		b, err := NewBinding(c.Name, c.Files, c.Tasks)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Match reports whether a path relative to the project root belongs to b.
func (b *Binding) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range b.exclude {
		if p.Match(rel) {
			return false
		}
	}
	for _, p := range b.include {
		if p.Covers(rel) {
			return true
		}
	}
	return false
}

// roots returns the directories to observe for b, relative to the root.
func (b *Binding) roots() []string {
	out := make([]string, 0, len(b.include))
	for _, p := range b.include {
		out = append(out, filepath.FromSlash(p.Base()))
	}
	return out
}
