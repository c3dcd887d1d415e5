package plugins

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/msageha/taskflow/internal/files"
	"github.com/msageha/taskflow/internal/fsutil"
	"github.com/msageha/taskflow/internal/task"
)

// templateSet parses the partials of one target. Each partial is named by
// its file name without extension, so "{{template \"header\" .}}" picks up
// partials/header.tmpl.
func (e *Env) templateSet(cwd string, partials []string) (*template.Template, error) {
	root := template.New("")
	matches, err := files.Match(e.FS, cwd, partials, false)
	if err != nil {
		return nil, err
	}
	for _, rel := range matches {
		src, err := util.ReadFile(e.FS, path.Join(cwd, rel))
		if err != nil {
			return nil, err
		}
		name := path.Base(rel)
		if i := strings.Index(name, "."); i > 0 {
			name = name[:i]
		}
		if _, err := root.New(name).Parse(string(src)); err != nil {
			return nil, fmt.Errorf("partial %s: %w", rel, err)
		}
	}
	return root, nil
}

// templateData reads a JSON or YAML data file.
func (e *Env) templateData(name string) (any, error) {
	if name == "" {
		return map[string]any{}, nil
	}
	raw, err := util.ReadFile(e.FS, name)
	if err != nil {
		return nil, fmt.Errorf("read data %s: %w", name, err)
	}
	var data any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse data %s: %w", name, err)
	}
	return data, nil
}

func templateExecutor(env *Env) task.Executor {
	return task.ExecutorFunc(func(_ context.Context, step *task.Step) *task.Completion {
		return task.Run(func() error {
			d := step.DataMap()
			if engine := d.GetString("engine", "go"); engine != "go" && engine != "text" {
				return fmt.Errorf("%s: unsupported template engine %q", step.Name(), engine)
			}
			cwd := d.GetString("cwd", ".")
			set, err := env.templateSet(cwd, d.GetStrings("partials"))
			if err != nil {
				return fmt.Errorf("%s: %w", step.Name(), err)
			}
			data, err := env.templateData(d.GetString("data", ""))
			if err != nil {
				return fmt.Errorf("%s: %w", step.Name(), err)
			}
			groups, err := env.groups(step)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				return fmt.Errorf("%s: %w", step.Name(), ErrNoFiles)
			}

			for _, g := range groups {
				if err := env.render(set, g, data); err != nil {
					return fmt.Errorf("%s: %w", step.Name(), err)
				}
			}
			env.Logger.Info().Str("step", step.Name()).Int("files", len(groups)).Msg("templates rendered")
			return nil
		})
	})
}

// render executes every source of g in order and writes the concatenated
// output to g.Dest.
func (e *Env) render(set *template.Template, g files.Group, data any) error {
	if g.Dest == "" {
		return fmt.Errorf("dest is required")
	}
	var out bytes.Buffer
	for _, src := range g.Src {
		raw, err := util.ReadFile(e.FS, src)
		if err != nil {
			return err
		}
		t, err := set.Clone()
		if err != nil {
			return err
		}
		if _, err := t.New(src).Parse(string(raw)); err != nil {
			return fmt.Errorf("parse %s: %w", src, err)
		}
		if err := t.ExecuteTemplate(&out, src, data); err != nil {
			return fmt.Errorf("render %s: %w", src, err)
		}
	}
	return fsutil.WriteFileFS(e.FS, g.Dest, out.Bytes())
}
