// Package task defines task definitions, the registry that holds them and
// the executable steps resolved from them.
package task

import (
	"context"

	"github.com/msageha/taskflow/internal/config"
)

type Kind int

const (
	// Simple tasks run once; an optional ":arg" suffix is passed through.
	Simple Kind = iota
	// MultiTarget tasks run once per target declared under their config
	// section.
	MultiTarget
)

func (k Kind) String() string {
	switch k {
	case Simple:
		return "simple"
	case MultiTarget:
		return "multi-target"
	default:
		return "unknown"
	}
}

// Executor performs one step. It returns a Completion that fires exactly
// once, whether the work finished before Execute returned or later.
type Executor interface {
	Execute(ctx context.Context, step *Step) *Completion
}

type ExecutorFunc func(ctx context.Context, step *Step) *Completion

func (f ExecutorFunc) Execute(ctx context.Context, step *Step) *Completion {
	return f(ctx, step)
}

// Definition binds a task name to its executor. Definitions are created at
// startup and not changed afterwards.
type Definition struct {
	Name        string
	Description string
	Kind        Kind
	// Targets lists target names in declaration order (MultiTarget only).
	Targets  []string
	Executor Executor
}

func (d Definition) HasTarget(name string) bool {
	for _, t := range d.Targets {
		if t == name {
			return true
		}
	}
	return false
}

// Step is one concrete (task, target) invocation with its configuration
// already dereferenced.
type Step struct {
	// Index is the 1-based position in the resolved sequence.
	Index  int
	Task   string
	Target string
	// Arg is the ":suffix" given to a Simple task.
	Arg  string
	Kind Kind
	// Data is the resolved target section (MultiTarget) or the resolved
	// task section (Simple, nil when absent).
	Data any
	// Options is the task-level options overlaid by target-level options.
	Options  *config.Map
	Executor Executor
}

// Name returns "task", "task:target" or "task:arg".
func (s *Step) Name() string {
	switch {
	case s.Target != "":
		return s.Task + ":" + s.Target
	case s.Arg != "":
		return s.Task + ":" + s.Arg
	default:
		return s.Task
	}
}

// DataMap returns Data as a mapping, or an empty one.
func (s *Step) DataMap() *config.Map {
	if m, ok := s.Data.(*config.Map); ok {
		return m
	}
	return config.NewMap()
}

// Opts never returns nil.
func (s *Step) Opts() *config.Map {
	if s.Options == nil {
		return config.NewMap()
	}
	return s.Options
}
