package plugins

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5/util"

	"github.com/msageha/taskflow/internal/files"
	"github.com/msageha/taskflow/internal/task"
)

var defaultBowerCleanPatterns = []string{
	"**/test", "**/tests", "**/doc", "**/docs",
	"**/example", "**/examples", "**/*.md", "**/Gruntfile.js",
}

// remove deletes the paths matched by patterns under cwd. Paths outside
// the project root, or the root itself, need force.
func (e *Env) remove(step *task.Step, cwd string, patterns []string, force, dryRun bool) (int, error) {
	if !force {
		for _, raw := range patterns {
			p, err := files.CompilePattern(raw)
			if err != nil {
				return 0, err
			}
			if !p.Negated() && escapes(path.Join(cwd, p.Base())) {
				return 0, fmt.Errorf("refusing to delete %q outside the project (set options.force)", raw)
			}
		}
	}
	matches, err := files.Match(e.FS, cwd, patterns, true)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rel := range matches {
		p := path.Join(cwd, rel)
		if !force && (p == "." || escapes(p)) {
			return removed, fmt.Errorf("refusing to delete %q outside the project (set options.force)", p)
		}
		if dryRun {
			e.Logger.Info().Str("step", step.Name()).Str("path", p).Msg("would delete")
			continue
		}
		if err := util.RemoveAll(e.FS, p); err != nil {
			return removed, fmt.Errorf("delete %s: %w", p, err)
		}
		removed++
	}
	return removed, nil
}

func escapes(p string) bool {
	return p == ".." || strings.HasPrefix(p, "../") || path.IsAbs(p)
}

func cleanExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(_ context.Context, step *task.Step) *task.Completion {
		return task.Run(func() error {
			mappings, err := files.ParseMappings(step.Data)
			if err != nil {
				return fmt.Errorf("%s: %w", step.Name(), err)
			}
			opts := step.Opts()
			total := 0
			for _, m := range mappings {
				cwd := m.Cwd
				if cwd == "" {
					cwd = "."
				}
				n, err := env.remove(step, cwd, m.Src, opts.GetBool("force", false), opts.GetBool("noWrite", false))
				if err != nil {
					return err
				}
				total += n
			}
			env.Logger.Info().Str("step", step.Name()).Int("removed", total).Msg("cleaned")
			return nil
		})
	})
}

func bowerCleanExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(_ context.Context, step *task.Step) *task.Completion {
		return task.Run(func() error {
			opts := step.Opts()
			dir := opts.GetString("dir", "components")
			if _, err := env.FS.Stat(dir); err != nil {
				env.Logger.Info().Str("dir", dir).Msg("no components to clean")
				return nil
			}
			patterns := opts.GetStrings("patterns")
			if len(patterns) == 0 {
				patterns = defaultBowerCleanPatterns
			}
			n, err := env.remove(step, dir, patterns, false, opts.GetBool("noWrite", false))
			if err != nil {
				return err
			}
			env.Logger.Info().Str("dir", dir).Int("removed", n).Msg("bower components cleaned")
			return nil
		})
	})
}
