package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/taskflow/internal/alias"
	"github.com/msageha/taskflow/internal/events"
	"github.com/msageha/taskflow/internal/logging"
	"github.com/msageha/taskflow/internal/model"
	"github.com/msageha/taskflow/internal/plugins"
	"github.com/msageha/taskflow/internal/runner"
	"github.com/msageha/taskflow/internal/task"
)

type fakeCommands struct {
	mu   sync.Mutex
	cmds []plugins.Command
	fail map[string]error
}

func (f *fakeCommands) Run(_ context.Context, c plugins.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, c)
	return f.fail[c.Path]
}

func (f *fakeCommands) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cmds))
	for i, c := range f.cmds {
		out[i] = c.String()
	}
	return out
}

const project = `
name: site
tasks:
  fetch: [fetch-deps]
  compile: [compile-all]
  package: [make-zip]
aliases:
  default: [fetch, "exec:hello"]
  build:
    description: compile and package
    tasks: [fetch, compile, package]
  ci: [build, jslint]
watch:
  bindings:
    src:
      files: ["src/**/*.js"]
      tasks: [compile]
config:
  greeting: hello
  exec:
    hello: echo ${greeting}
  jslint:
    all:
      src: [src/**/*.js]
`

func newPipeline(t *testing.T, doc string, overrides ...string) (*Pipeline, *fakeCommands) {
	t.Helper()
	p, cmds, err := build(t, doc, overrides...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, cmds
}

func build(t *testing.T, doc string, overrides ...string) (*Pipeline, *fakeCommands, error) {
	t.Helper()
	proj, err := model.ParseProject([]byte(doc))
	require.NoError(t, err)
	proj.ApplyDefaults(model.UserDefaults{})

	cmds := &fakeCommands{fail: map[string]error{}}
	env := &plugins.Env{Root: "/project", FS: memfs.New(), Commands: cmds, Logger: logging.Nop()}
	p, err := New(proj, Options{
		Dir:       t.TempDir(),
		Logger:    logging.Nop(),
		Overrides: overrides,
		Env:       env,
	})
	return p, cmds, err
}

func TestRun_DefaultTarget(t *testing.T) {
	p, cmds := newPipeline(t, project)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, []string{"fetch-deps", "sh -c echo hello"}, cmds.lines())
}

func TestRun_NestedAliasOrder(t *testing.T) {
	p, _ := newPipeline(t, project)

	steps, err := p.Resolve("ci")
	require.NoError(t, err)
	names := make([]string, len(steps))
	for i := range steps {
		names[i] = steps[i].Name()
	}
	assert.Equal(t, []string{"fetch", "compile", "package", "jslint:all"}, names)
}

func TestRun_UnknownNameRunsNothing(t *testing.T) {
	p, cmds := newPipeline(t, project)

	_, err := p.Run(context.Background(), "fetch", "deploy")
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrUnknownTask)
	assert.Empty(t, cmds.lines())

	_, err = p.Run(context.Background(), "exec:missing")
	assert.ErrorIs(t, err, task.ErrUnknownTask)
	assert.Empty(t, cmds.lines())
}

func TestRun_StopsAtFailingStep(t *testing.T) {
	p, cmds := newPipeline(t, project)
	cmds.fail["compile-all"] = errors.New("exit status 2")

	res, err := p.Run(context.Background(), "build")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, 2, res.Err.Index)
	assert.Equal(t, "compile", res.Err.Step)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, []string{"fetch-deps", "compile-all"}, cmds.lines())
	assert.Equal(t, "step 2 (compile) failed: exit status 2", res.Err.Error())
}

func TestRunTasks(t *testing.T) {
	p, cmds := newPipeline(t, project)

	require.NoError(t, p.RunTasks(context.Background(), []string{"compile"}))
	assert.Equal(t, []string{"compile-all"}, cmds.lines())

	cmds.fail["compile-all"] = errors.New("boom")
	err := p.RunTasks(context.Background(), []string{"compile"})
	assert.ErrorIs(t, err, runner.ErrStepFailed)

	err = p.RunTasks(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, task.ErrUnknownTask)
}

func TestNew_Overrides(t *testing.T) {
	p, cmds := newPipeline(t, project, "greeting=bye", "exec.extra=[extra-bin, --flag]")

	_, err := p.Run(context.Background(), "exec:hello", "exec:extra")
	require.NoError(t, err)
	assert.Equal(t, []string{"sh -c echo bye", "extra-bin --flag"}, cmds.lines())

	v, err := p.Store().Lookup("greeting")
	require.NoError(t, err)
	assert.Equal(t, "bye", v)
}

func TestNew_InvalidOverride(t *testing.T) {
	_, _, err := build(t, project, "greeting")
	assert.Error(t, err)
	_, _, err = build(t, project, "=x")
	assert.Error(t, err)
}

func TestNew_ValidationErrors(t *testing.T) {
	tests := map[string]struct {
		doc    string
		target error
	}{
		"user task shadows builtin": {
			doc:    "tasks:\n  less: lessc a.less\n",
			target: task.ErrDuplicateTask,
		},
		"alias cycle": {
			doc:    "aliases:\n  a: [b]\n  b: [a]\n",
			target: alias.ErrAliasCycle,
		},
		"alias to unknown task": {
			doc:    "aliases:\n  default: [nope]\n",
			target: task.ErrUnknownTask,
		},
		"binding to unknown task": {
			doc:    "watch:\n  bindings:\n    js:\n      files: ['**/*.js']\n      tasks: [nope]\n",
			target: task.ErrUnknownTask,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := build(t, tc.doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestNew_EmptyProject(t *testing.T) {
	p, _ := newPipeline(t, "name: empty\n")

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, task.ErrUnknownTask, "no default alias")

	_, err = p.WatchLoop()
	assert.Error(t, err)
}

func TestListing(t *testing.T) {
	p, _ := newPipeline(t, project)

	aliases := p.Aliases()
	require.Len(t, aliases, 3)
	assert.Equal(t, "default", aliases[0].Name)
	assert.Equal(t, "build", aliases[1].Name)
	assert.Equal(t, "compile and package [fetch, compile, package]", aliases[1].Describe())

	byName := map[string]Entry{}
	for _, e := range p.Tasks() {
		byName[e.Name] = e
	}
	for _, n := range plugins.Names() {
		assert.Contains(t, byName, n)
	}
	assert.Equal(t, []string{"hello"}, byName["exec"].Items)
	assert.Equal(t, "multi-target", byName["jslint"].Kind)
	assert.Equal(t, "make-zip", byName["package"].Description)
	assert.Contains(t, byName, "watch")
}

func TestRunLog(t *testing.T) {
	doc := project + "logging:\n  audit: true\n"
	p, _, err := build(t, doc)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "compile")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	entries, err := events.ReadEntries(filepath.Join(p.StateDir(), "logs", runLogName))
	require.NoError(t, err)
	var types []string
	for _, e := range entries {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{"run_started", "step_started", "step_completed", "run_finished"}, types)
}

func TestWatchTask(t *testing.T) {
	p, cmds := newPipeline(t, project)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *runner.Result, 1)
	go func() {
		res, err := p.Run(ctx, "watch")
		if err != nil {
			res = &runner.Result{Err: &runner.StepExecutionError{Cause: err}}
		}
		done <- res
	}()

	require.Eventually(t, func() bool {
		return fileExists(p.SocketPath())
	}, timeout, tick)
	cancel()

	select {
	case res := <-done:
		if res.Err != nil {
			assert.ErrorIs(t, res.Err, context.Canceled)
		}
	case <-timeAfter():
		t.Fatal("watch task did not stop")
	}
	assert.Empty(t, cmds.lines())
}
