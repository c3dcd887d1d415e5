// Package plugins holds the built-in tasks. Each one reads its dereferenced
// target configuration from the step and drives an external tool or the
// project filesystem.
package plugins

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"

	"github.com/msageha/taskflow/internal/config"
	"github.com/msageha/taskflow/internal/logging"
	"github.com/msageha/taskflow/internal/task"
)

// Command is one external process invocation.
type Command struct {
	Path string
	Args []string
	// Dir is relative to the project root.
	Dir string
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// CommandRunner starts a process and waits for it.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec, streaming output to the given
// writers.
type ExecRunner struct {
	Root   string
	Stdout io.Writer
	Stderr io.Writer
}

func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = r.Root
	if c.Dir != "" {
		cmd.Dir = filepath.Join(r.Root, c.Dir)
	}
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	return nil
}

// Env is what every plugin works against: the project root on disk, the
// same tree as a billy filesystem and the process runner.
type Env struct {
	Root     string
	FS       billy.Filesystem
	Commands CommandRunner
	Logger   zerolog.Logger
}

// NewEnv roots everything at dir and streams tool output to stdout/stderr.
func NewEnv(dir string, logger zerolog.Logger, stdout, stderr io.Writer) *Env {
	return &Env{
		Root:     dir,
		FS:       osfs.New(dir),
		Commands: &ExecRunner{Root: dir, Stdout: stdout, Stderr: stderr},
		Logger:   logging.Component(logger, "plugins"),
	}
}

func (e *Env) run(ctx context.Context, step *task.Step, c Command) error {
	e.Logger.Debug().Str("step", step.Name()).Str("cmd", c.String()).Msg("exec")
	return e.Commands.Run(ctx, c)
}

// bin returns options.bin or def.
func bin(opts *config.Map, def string) string {
	return opts.GetString("bin", def)
}

// plugin describes one built-in task.
type plugin struct {
	name        string
	description string
	kind        task.Kind
	executor    func(*Env) task.Executor
}

var builtins = []plugin{
	{"exec", "run shell commands", task.MultiTarget, execExecutor},
	{"less", "compile LESS stylesheets with lessc", task.MultiTarget, lessExecutor},
	{"requirejs", "optimize AMD modules with r.js", task.MultiTarget, requirejsExecutor},
	{"bower", "wire bower components into the require config", task.MultiTarget, bowerExecutor},
	{"bower_clean", "remove docs and tests from bower components", task.Simple, bowerCleanExecutor},
	{"clean", "delete generated files and directories", task.MultiTarget, cleanExecutor},
	{"jslint", "lint JavaScript sources", task.MultiTarget, jslintExecutor},
	{"template", "render text templates with a data file", task.MultiTarget, templateExecutor},
	{"release", "bump the version, commit and tag", task.Simple, releaseExecutor},
}

// RegisterAll registers every built-in task. Targets of multi-target tasks
// are read from their config section; a task without one is still
// registered and fails at resolution if it is used.
func RegisterAll(reg *task.Registry, store *config.Store, env *Env) error {
	for _, p := range builtins {
		def := task.Definition{
			Name:        p.name,
			Description: p.description,
			Kind:        p.kind,
			Executor:    p.executor(env),
		}
		if p.kind == task.MultiTarget {
			targets, err := store.TargetNames(p.name)
			if err != nil {
				return err
			}
			def.Targets = targets
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", p.name, err)
		}
	}
	return nil
}

// Names lists the built-in task names.
func Names() []string {
	out := make([]string, len(builtins))
	for i, p := range builtins {
		out[i] = p.name
	}
	return out
}
