package plugins

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/msageha/taskflow/internal/config"
	"github.com/msageha/taskflow/internal/files"
	"github.com/msageha/taskflow/internal/task"
)

var ErrNoFiles = errors.New("no source files matched")

func (e *Env) groups(step *task.Step) ([]files.Group, error) {
	mappings, err := files.ParseMappings(step.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step.Name(), err)
	}
	groups, err := files.ResolveAll(e.FS, mappings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step.Name(), err)
	}
	return groups, nil
}

// lessArgs maps plugin options to lessc flags.
func lessArgs(opts *config.Map) []string {
	var args []string
	if opts.GetBool("sourceMap", false) {
		args = append(args, "--source-map")
	}
	if opts.GetBool("cleancss", false) {
		args = append(args, "--clean-css")
	}
	if opts.GetBool("compress", false) {
		args = append(args, "--compress")
	}
	if !opts.GetBool("ieCompat", true) {
		args = append(args, "--no-ie-compat")
	}
	if opts.GetBool("strictMath", false) {
		args = append(args, "--strict-math=on")
	}
	if paths := opts.GetStrings("paths"); len(paths) > 0 {
		args = append(args, "--include-path="+strings.Join(paths, ":"))
	}
	return args
}

func lessExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, step *task.Step) *task.Completion {
		groups, err := env.groups(step)
		if err != nil {
			return task.Failed(err)
		}
		opts := step.Opts()
		flags := lessArgs(opts)
		lessc := bin(opts, "lessc")

		return task.Go(func() error {
			if len(groups) == 0 {
				env.Logger.Warn().Str("step", step.Name()).Msg("no stylesheets matched")
				return nil
			}
			for _, g := range groups {
				if g.Dest == "" {
					return fmt.Errorf("%s: dest is required", step.Name())
				}
				if err := env.FS.MkdirAll(path.Dir(g.Dest), 0o755); err != nil {
					return fmt.Errorf("create %s: %w", path.Dir(g.Dest), err)
				}
				for _, src := range g.Src {
					args := append(append([]string(nil), flags...), src, g.Dest)
					if err := env.run(ctx, step, Command{Path: lessc, Args: args}); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
}

// flattenOptions renders an options tree as r.js key=value pairs, nested
// mappings becoming dotted keys. Keys keep their declared order.
func flattenOptions(prefix string, m *config.Map, skip map[string]bool) []string {
	var out []string
	for _, k := range m.Keys() {
		if skip[k] {
			continue
		}
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		v, _ := m.Get(k)
		switch val := v.(type) {
		case *config.Map:
			out = append(out, flattenOptions(key, val, nil)...)
		case []any:
			out = append(out, key+"="+strings.Join(config.AsStrings(val), ","))
		case bool:
			out = append(out, key+"="+strconv.FormatBool(val))
		case nil:
		default:
			out = append(out, key+"="+config.AsStrings(val)[0])
		}
	}
	return out
}

func requirejsExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, step *task.Step) *task.Completion {
		opts := step.Opts()
		pairs := flattenOptions("", opts, map[string]bool{"bin": true})
		if len(pairs) == 0 {
			return task.Failed(fmt.Errorf("%s: no r.js options configured", step.Name()))
		}
		args := append([]string{"-o"}, pairs...)
		c := Command{Path: bin(opts, "r.js"), Args: args}
		return task.Go(func() error {
			return env.run(ctx, step, c)
		})
	})
}

func bowerExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, step *task.Step) *task.Completion {
		data := step.DataMap()
		opts := step.Opts()
		rjsConfig := data.GetString("rjsConfig", opts.GetString("rjsConfig", ""))
		if rjsConfig == "" {
			return task.Failed(fmt.Errorf("%s: rjsConfig is required", step.Name()))
		}
		args := []string{"-c", rjsConfig}
		if exclude := opts.GetStrings("exclude"); len(exclude) > 0 {
			args = append(args, "-e", strings.Join(exclude, ","))
		}
		if base := opts.GetString("baseUrl", ""); base != "" {
			args = append(args, "-b", base)
		}
		c := Command{Path: bin(opts, "bower-requirejs"), Args: args}
		return task.Go(func() error {
			return env.run(ctx, step, c)
		})
	})
}

// lintDirectives maps a directives table to jslint flags: true -> --name,
// false -> --name=false, lists repeat the flag.
func lintDirectives(d *config.Map) []string {
	keys := d.Keys()
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		v, _ := d.Get(k)
		switch val := v.(type) {
		case bool:
			if val {
				out = append(out, "--"+k)
			} else {
				out = append(out, "--"+k+"=false")
			}
		case []any:
			for _, item := range config.AsStrings(val) {
				out = append(out, "--"+k+"="+item)
			}
		case nil:
		default:
			out = append(out, "--"+k+"="+config.AsStrings(val)[0])
		}
	}
	return out
}

func jslintExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(ctx context.Context, step *task.Step) *task.Completion {
		groups, err := env.groups(step)
		if err != nil {
			return task.Failed(err)
		}
		var srcs []string
		for _, g := range groups {
			srcs = append(srcs, g.Src...)
		}
		if len(srcs) == 0 {
			return task.Failed(fmt.Errorf("%s: %w", step.Name(), ErrNoFiles))
		}
		opts := step.Opts()
		args := lintDirectives(step.DataMap().Sub("directives"))
		if opts.GetBool("errorsOnly", false) {
			args = append(args, "--terse")
		}
		args = append(args, srcs...)
		c := Command{Path: bin(opts, "jslint"), Args: args}
		failOnError := opts.GetBool("failOnError", true)

		return task.Go(func() error {
			err := env.run(ctx, step, c)
			if err != nil && !failOnError {
				env.Logger.Warn().Str("step", step.Name()).Err(err).Msg("lint errors ignored")
				return nil
			}
			if err != nil {
				return fmt.Errorf("jslint reported errors in %d files: %w", len(srcs), err)
			}
			return nil
		})
	})
}
