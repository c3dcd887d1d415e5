package task

import (
	"fmt"
	"strings"
)

// Registry maps task names to definitions. It is filled once at startup by
// explicit Register calls and read-only afterwards.
type Registry struct {
	defs  map[string]Definition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def. A name already present is rejected with
// DuplicateTaskError and the existing definition stays active.
func (r *Registry) Register(def Definition) error {
	if err := ValidateName(def.Name); err != nil {
		return err
	}
	if def.Executor == nil {
		return fmt.Errorf("%w: task %q has no executor", ErrInvalidDefinition, def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		return &DuplicateTaskError{Name: def.Name}
	}
	if def.Kind == Simple && len(def.Targets) > 0 {
		return fmt.Errorf("%w: simple task %q cannot declare targets", ErrInvalidDefinition, def.Name)
	}
	targets := make([]string, len(def.Targets))
	copy(targets, def.Targets)
	def.Targets = targets

	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

func (r *Registry) Lookup(name string) (Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, &UnknownTaskError{Name: name}
	}
	return def, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Names returns task names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// ValidateName reports whether name can be used as a task or alias name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty task name", ErrInvalidDefinition)
	}
	if strings.ContainsAny(name, ": \t\n") {
		return fmt.Errorf("%w: task name %q must not contain ':' or whitespace", ErrInvalidDefinition, name)
	}
	return nil
}
