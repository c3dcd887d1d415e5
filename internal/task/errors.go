package task

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTask     = errors.New("duplicate task")
	ErrUnknownTask       = errors.New("unknown task")
	ErrInvalidDefinition = errors.New("invalid task definition")
)

// DuplicateTaskError is returned when a task or alias name is registered
// twice.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task: %q is already registered", e.Name)
}

func (e *DuplicateTaskError) Is(target error) bool { return target == ErrDuplicateTask }

// UnknownTaskError is returned for a name that is neither an alias nor a
// registered task, or for an undeclared target of a multi-target task.
type UnknownTaskError struct {
	Name   string
	Target string
}

func (e *UnknownTaskError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("unknown task: %q has no target %q", e.Name, e.Target)
	}
	return fmt.Sprintf("unknown task: %q", e.Name)
}

func (e *UnknownTaskError) Is(target error) bool { return target == ErrUnknownTask }
