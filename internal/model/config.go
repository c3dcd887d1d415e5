// Package model defines the data structures of a taskflow project file.
package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Project is the decoded taskflow.yaml. The config tree is kept as a raw
// node so that key order and !ref tags reach the config package intact.
type Project struct {
	Name    string        `yaml:"name"`
	Logging LoggingConfig `yaml:"logging"`
	Watch   WatchConfig   `yaml:"watch"`
	Tasks   TaskList      `yaml:"tasks"`
	Aliases AliasList     `yaml:"aliases"`
	Config  yaml.Node     `yaml:"config"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// Audit enables the JSONL run log under .taskflow/logs.
	Audit        bool  `yaml:"audit"`
	AuditMaxSize int64 `yaml:"audit_max_bytes"`
}

type WatchConfig struct {
	DebounceMs      int         `yaml:"debounce_ms"`
	ShutdownWarnSec int         `yaml:"shutdown_warn_sec"`
	Bindings        BindingList `yaml:"bindings"`
}

// ShellTask is a user task that runs a command.
type ShellTask struct {
	Name        string
	Description string   `yaml:"description"`
	Cmd         []string `yaml:"-"`
	Shell       string   `yaml:"shell"`
	Cwd         string   `yaml:"cwd"`
	Env         []string `yaml:"env"`
}

// TaskList keeps tasks in file order. Each entry is either a command
// string or a mapping with cmd/description/cwd/env.
type TaskList []ShellTask

func (l *TaskList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: tasks must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, val := node.Content[i].Value, node.Content[i+1]
		t := ShellTask{Name: name}
		switch val.Kind {
		case yaml.ScalarNode:
			t.Shell = val.Value
		case yaml.SequenceNode:
			if err := val.Decode(&t.Cmd); err != nil {
				return fmt.Errorf("task %q: %w", name, err)
			}
		case yaml.MappingNode:
			var raw struct {
				Description string    `yaml:"description"`
				Cmd         yaml.Node `yaml:"cmd"`
				Cwd         string    `yaml:"cwd"`
				Env         []string  `yaml:"env"`
			}
			if err := val.Decode(&raw); err != nil {
				return fmt.Errorf("task %q: %w", name, err)
			}
			t.Description, t.Cwd, t.Env = raw.Description, raw.Cwd, raw.Env
			switch raw.Cmd.Kind {
			case yaml.ScalarNode:
				t.Shell = raw.Cmd.Value
			case yaml.SequenceNode:
				if err := raw.Cmd.Decode(&t.Cmd); err != nil {
					return fmt.Errorf("task %q: %w", name, err)
				}
			default:
				return fmt.Errorf("task %q: cmd is required", name)
			}
		default:
			return fmt.Errorf("line %d: task %q must be a command or a mapping", val.Line, name)
		}
		*l = append(*l, t)
	}
	return nil
}

// AliasConfig is a named list of task references.
type AliasConfig struct {
	Name        string
	Description string
	Tasks       []string
}

// AliasList keeps aliases in file order. Each entry is either a list of
// task references or a mapping with description/tasks.
type AliasList []AliasConfig

func (l *AliasList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: aliases must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, val := node.Content[i].Value, node.Content[i+1]
		a := AliasConfig{Name: name}
		switch val.Kind {
		case yaml.SequenceNode:
			if err := val.Decode(&a.Tasks); err != nil {
				return fmt.Errorf("alias %q: %w", name, err)
			}
		case yaml.ScalarNode:
			a.Tasks = []string{val.Value}
		case yaml.MappingNode:
			var raw struct {
				Description string   `yaml:"description"`
				Tasks       []string `yaml:"tasks"`
			}
			if err := val.Decode(&raw); err != nil {
				return fmt.Errorf("alias %q: %w", name, err)
			}
			a.Description, a.Tasks = raw.Description, raw.Tasks
		default:
			return fmt.Errorf("line %d: alias %q must be a list of tasks", val.Line, name)
		}
		*l = append(*l, a)
	}
	return nil
}

// Binding maps file globs to the tasks re-run when a matching file changes.
type Binding struct {
	Name  string
	Files []string `yaml:"files"`
	Tasks []string `yaml:"tasks"`
}

// BindingList keeps watch bindings in declaration order; that order is the
// order in which simultaneous changes are processed.
type BindingList []Binding

func (l *BindingList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: watch bindings must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		b := Binding{Name: node.Content[i].Value}
		if err := node.Content[i+1].Decode(&b); err != nil {
			return fmt.Errorf("watch binding %q: %w", b.Name, err)
		}
		b.Name = node.Content[i].Value
		*l = append(*l, b)
	}
	return nil
}
