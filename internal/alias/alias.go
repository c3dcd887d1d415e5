// Package alias expands alias and task names into a flat, ordered sequence
// of steps.
package alias

import (
	"errors"
	"fmt"
	"strings"

	"github.com/msageha/taskflow/internal/config"
	"github.com/msageha/taskflow/internal/task"
)

var ErrAliasCycle = errors.New("alias cycle")

// AliasCycleError reports an alias that reaches itself through its steps.
// Chain starts and ends with the repeated name.
type AliasCycleError struct {
	Chain []string
}

func (e *AliasCycleError) Error() string {
	return fmt.Sprintf("alias cycle: %s", strings.Join(e.Chain, " -> "))
}

func (e *AliasCycleError) Is(target error) bool { return target == ErrAliasCycle }

// StepRef is one entry of an alias: "task" or "task:target".
type StepRef struct {
	Task   string
	Target string
}

func ParseStepRef(s string) (StepRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StepRef{}, fmt.Errorf("empty step reference")
	}
	name, target, found := strings.Cut(s, ":")
	if name == "" || (found && target == "") {
		return StepRef{}, fmt.Errorf("invalid step reference %q", s)
	}
	return StepRef{Task: name, Target: target}, nil
}

func (r StepRef) String() string {
	if r.Target == "" {
		return r.Task
	}
	return r.Task + ":" + r.Target
}

// Alias is a named, ordered list of step references.
type Alias struct {
	Name        string
	Description string
	Steps       []StepRef
}

// Resolver expands names against the task registry and the aliases defined
// on it. Aliases and tasks share one namespace; an alias shadows a task of
// the same name.
type Resolver struct {
	registry *task.Registry
	store    *config.Store
	aliases  map[string]Alias
	order    []string
}

func NewResolver(registry *task.Registry, store *config.Store) *Resolver {
	return &Resolver{
		registry: registry,
		store:    store,
		aliases:  make(map[string]Alias),
	}
}

// Define registers an alias. Defining the same alias twice is a
// DuplicateTaskError.
func (r *Resolver) Define(name string, steps []string) error {
	return r.DefineAlias(name, "", steps)
}

func (r *Resolver) DefineAlias(name, description string, steps []string) error {
	if err := task.ValidateName(name); err != nil {
		return fmt.Errorf("alias %q: %w", name, err)
	}
	if _, exists := r.aliases[name]; exists {
		return &task.DuplicateTaskError{Name: name}
	}
	refs := make([]StepRef, 0, len(steps))
	for _, s := range steps {
		ref, err := ParseStepRef(s)
		if err != nil {
			return fmt.Errorf("alias %q: %w", name, err)
		}
		refs = append(refs, ref)
	}
	r.aliases[name] = Alias{Name: name, Description: description, Steps: refs}
	r.order = append(r.order, name)
	return nil
}

func (r *Resolver) Alias(name string) (Alias, bool) {
	a, ok := r.aliases[name]
	return a, ok
}

// Names returns alias names in definition order.
func (r *Resolver) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Validate resolves every alias once so that cycles and dangling names
// are reported before anything runs.
func (r *Resolver) Validate() error {
	for _, name := range r.order {
		if _, err := r.Resolve(name); err != nil {
			return fmt.Errorf("alias %q: %w", name, err)
		}
	}
	return nil
}

// Resolve expands each name depth-first, left to right, and concatenates
// the results. Steps are numbered from 1 in the returned order.
func (r *Resolver) Resolve(names ...string) ([]task.Step, error) {
	exp := &expansion{resolver: r, onStack: make(map[string]bool)}
	for _, name := range names {
		ref, err := ParseStepRef(name)
		if err != nil {
			return nil, err
		}
		if err := exp.expand(ref); err != nil {
			return nil, err
		}
	}
	for i := range exp.steps {
		exp.steps[i].Index = i + 1
	}
	return exp.steps, nil
}

// expansion is the state of one Resolve call.
type expansion struct {
	resolver *Resolver
	stack    []string
	onStack  map[string]bool
	steps    []task.Step
}

func (e *expansion) expand(ref StepRef) error {
	if e.onStack[ref.Task] {
		chain := []string{ref.Task}
		for i := len(e.stack) - 1; i >= 0; i-- {
			chain = append([]string{e.stack[i]}, chain...)
			if e.stack[i] == ref.Task {
				break
			}
		}
		return &AliasCycleError{Chain: chain}
	}

	if a, ok := e.resolver.aliases[ref.Task]; ok {
		if ref.Target != "" {
			return &task.UnknownTaskError{Name: ref.Task, Target: ref.Target}
		}
		e.stack = append(e.stack, a.Name)
		e.onStack[a.Name] = true
		for _, child := range a.Steps {
			if err := e.expand(child); err != nil {
				return err
			}
		}
		e.stack = e.stack[:len(e.stack)-1]
		delete(e.onStack, a.Name)
		return nil
	}

	def, err := e.resolver.registry.Lookup(ref.Task)
	if err != nil {
		return err
	}
	return e.emit(def, ref)
}

func (e *expansion) emit(def task.Definition, ref StepRef) error {
	if def.Kind == task.Simple {
		step, err := e.resolver.simpleStep(def, ref.Target)
		if err != nil {
			return err
		}
		e.steps = append(e.steps, step)
		return nil
	}

	targets := def.Targets
	if ref.Target != "" {
		if !def.HasTarget(ref.Target) {
			return &task.UnknownTaskError{Name: def.Name, Target: ref.Target}
		}
		targets = []string{ref.Target}
	}
	if len(targets) == 0 {
		return &config.MissingConfigError{Path: def.Name}
	}
	for _, target := range targets {
		step, err := e.resolver.targetStep(def, target)
		if err != nil {
			return err
		}
		e.steps = append(e.steps, step)
	}
	return nil
}

func (r *Resolver) simpleStep(def task.Definition, arg string) (task.Step, error) {
	var data any
	if r.store.Has(def.Name) {
		v, err := r.store.Lookup(def.Name)
		if err != nil {
			return task.Step{}, fmt.Errorf("task %q: %w", def.Name, err)
		}
		data = v
	}
	opts, err := config.OptionsOf(data)
	if err != nil {
		return task.Step{}, fmt.Errorf("task %q: %w", def.Name, err)
	}
	return task.Step{
		Task:     def.Name,
		Arg:      arg,
		Kind:     task.Simple,
		Data:     data,
		Options:  config.MergeOptions(opts, nil),
		Executor: def.Executor,
	}, nil
}

func (r *Resolver) targetStep(def task.Definition, target string) (task.Step, error) {
	name := def.Name + ":" + target
	data, err := r.store.LookupPath(config.Path{def.Name, target})
	if err != nil {
		return task.Step{}, fmt.Errorf("task %q: %w", name, err)
	}
	taskOpts, err := r.store.LookupMap(def.Name + ".options")
	if err != nil {
		return task.Step{}, fmt.Errorf("task %q: %w", name, err)
	}
	targetOpts, err := config.OptionsOf(data)
	if err != nil {
		return task.Step{}, fmt.Errorf("task %q: %w", name, err)
	}
	return task.Step{
		Task:     def.Name,
		Target:   target,
		Kind:     task.MultiTarget,
		Data:     data,
		Options:  config.MergeOptions(taskOpts, targetOpts),
		Executor: def.Executor,
	}, nil
}
