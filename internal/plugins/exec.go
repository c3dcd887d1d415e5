package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/msageha/taskflow/internal/config"
	"github.com/msageha/taskflow/internal/model"
	"github.com/msageha/taskflow/internal/task"
)

// commandFrom reads a command from a target value:
//
//	build: make all                     (shell string)
//	build: [make, all]                  (argv)
//	build: {cmd: ..., cwd: web, env: [K=V]}
func commandFrom(v any) (Command, error) {
	switch val := v.(type) {
	case string:
		return shellCommand(val), nil
	case []any:
		argv := config.AsStrings(val)
		if len(argv) == 0 {
			return Command{}, fmt.Errorf("empty command")
		}
		return Command{Path: argv[0], Args: argv[1:]}, nil
	case *config.Map:
		raw, ok := val.Get("cmd")
		if !ok {
			return Command{}, fmt.Errorf("cmd is required")
		}
		if _, nested := raw.(*config.Map); nested {
			return Command{}, fmt.Errorf("cmd must be a string or a list")
		}
		c, err := commandFrom(raw)
		if err != nil {
			return Command{}, err
		}
		c.Dir = val.GetString("cwd", "")
		c.Env = val.GetStrings("env")
		return c, nil
	default:
		return Command{}, fmt.Errorf("unsupported command value %T", v)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellCommand(line string) Command {
	return Command{Path: "sh", Args: []string{"-c", line}}
}

func execExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, step *task.Step) *task.Completion {
		c, err := commandFrom(step.Data)
		if err != nil {
			return task.Failed(fmt.Errorf("%s: %w", step.Name(), err))
		}
		return task.Go(func() error {
			return env.run(ctx, step, c)
		})
	})
}

// ShellTask builds the definition of a user task declared under tasks:.
// A ":arg" suffix is appended to the command as one extra argument.
func ShellTask(env *Env, t model.ShellTask) task.Definition {
	base := Command{Path: "sh", Args: []string{"-c", t.Shell}, Dir: t.Cwd, Env: t.Env}
	if len(t.Cmd) > 0 {
		base = Command{Path: t.Cmd[0], Args: t.Cmd[1:], Dir: t.Cwd, Env: t.Env}
	}
	desc := t.Description
	if desc == "" {
		desc = base.String()
	}
	return task.Definition{
		Name:        t.Name,
		Description: desc,
		Kind:        task.Simple,
		Executor: task.ExecutorFunc(func(ctx context.Context, step *task.Step) *task.Completion {
			c := base
			c.Args = append([]string(nil), base.Args...)
			if step.Arg != "" {
				if len(t.Cmd) == 0 {
					c.Args[1] += " " + shellQuote(step.Arg)
				} else {
					c.Args = append(c.Args, step.Arg)
				}
			}
			return task.Go(func() error {
				return env.run(ctx, step, c)
			})
		}),
	}
}
