// Package pipeline assembles a project into a runnable pipeline: config
// store, task registry, aliases, runner and watch bindings.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/msageha/taskflow/internal/alias"
	"github.com/msageha/taskflow/internal/config"
	"github.com/msageha/taskflow/internal/events"
	"github.com/msageha/taskflow/internal/logging"
	"github.com/msageha/taskflow/internal/model"
	"github.com/msageha/taskflow/internal/plugins"
	"github.com/msageha/taskflow/internal/runner"
	"github.com/msageha/taskflow/internal/task"
	"github.com/msageha/taskflow/internal/uds"
	"github.com/msageha/taskflow/internal/watch"
)

// DefaultTarget is run when no names are given.
const DefaultTarget = "default"

const (
	watchTaskName = "watch"
	runLogName    = "runs.jsonl"
	lockFileName  = "watch.lock"
)

type Options struct {
	// Dir is the project root; plugins and watch paths are relative to it.
	Dir    string
	Logger zerolog.Logger
	Stdout io.Writer
	Stderr io.Writer
	// Overrides are "path=value" assignments applied to the config tree
	// before anything is resolved. Values are parsed as YAML.
	Overrides []string
	// Env replaces the plugin environment built from Dir.
	Env *plugins.Env
}

type Pipeline struct {
	project  *model.Project
	dir      string
	logger   zerolog.Logger
	store    *config.Store
	registry *task.Registry
	resolver *alias.Resolver
	runner   *runner.Runner
	bus      *events.Bus
	audit    *events.AuditLogger
	bindings []*watch.Binding
}

// New builds and validates a pipeline. Duplicate names, alias cycles,
// dangling references and config cycles are all reported here, before
// anything runs.
func New(project *model.Project, opts Options) (*Pipeline, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	p := &Pipeline{
		project:  project,
		dir:      dir,
		logger:   logging.Component(opts.Logger, "pipeline"),
		registry: task.NewRegistry(),
		bus:      events.NewBus(256),
	}

	root := config.NewMap()
	if project.Config.Kind != 0 {
		if root, err = config.MapFromNode(&project.Config); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	p.store = config.NewStore(root)
	for _, o := range opts.Overrides {
		if err := applyOverride(p.store, o); err != nil {
			return nil, err
		}
	}

	env := opts.Env
	if env == nil {
		env = plugins.NewEnv(dir, opts.Logger, opts.Stdout, opts.Stderr)
	}
	if err := plugins.RegisterAll(p.registry, p.store, env); err != nil {
		return nil, err
	}
	for _, t := range project.Tasks {
		if err := p.registry.Register(plugins.ShellTask(env, t)); err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
	}
	if err := p.registry.Register(task.Definition{
		Name:        watchTaskName,
		Description: "re-run bound tasks when files change",
		Kind:        task.Simple,
		Executor:    task.ExecutorFunc(p.executeWatch),
	}); err != nil {
		return nil, err
	}

	p.resolver = alias.NewResolver(p.registry, p.store)
	for _, a := range project.Aliases {
		if err := p.resolver.DefineAlias(a.Name, a.Description, a.Tasks); err != nil {
			return nil, err
		}
	}
	if err := p.resolver.Validate(); err != nil {
		return nil, err
	}

	if p.bindings, err = watch.BindingsFrom(project.Watch.Bindings); err != nil {
		return nil, err
	}
	for _, b := range p.bindings {
		if _, err := p.resolver.Resolve(b.Tasks...); err != nil {
			return nil, fmt.Errorf("watch binding %q: %w", b.Name, err)
		}
	}

	p.runner = runner.New(opts.Logger)
	p.runner.SetEventBus(p.bus)

	if project.Logging.Audit {
		path := filepath.Join(p.StateDir(), "logs", runLogName)
		audit, err := events.NewAuditLogger(path, project.Logging.AuditMaxSize)
		if err != nil {
			return nil, err
		}
		audit.Attach(p.bus, func(err error) {
			p.logger.Warn().Err(err).Msg("run log write failed")
		})
		p.audit = audit
	}
	return p, nil
}

// applyOverride sets one "path=value" assignment.
func applyOverride(store *config.Store, assignment string) error {
	path, raw, ok := strings.Cut(assignment, "=")
	if !ok || path == "" {
		return fmt.Errorf("override %q: want path=value", assignment)
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		return fmt.Errorf("override %q: %w", assignment, err)
	}
	var v any
	if node.Kind != 0 {
		var err error
		if v, err = config.FromNode(&node); err != nil {
			return fmt.Errorf("override %q: %w", assignment, err)
		}
	}
	if err := store.Set(path, v); err != nil {
		return fmt.Errorf("override %q: %w", assignment, err)
	}
	return nil
}

func (p *Pipeline) Dir() string { return p.dir }

// StateDir holds the run log, watch lock and control socket.
func (p *Pipeline) StateDir() string {
	return filepath.Join(p.dir, model.StateDirName)
}

func (p *Pipeline) SocketPath() string {
	return filepath.Join(p.StateDir(), uds.SocketName)
}

func (p *Pipeline) EventBus() *events.Bus { return p.bus }
func (p *Pipeline) Store() *config.Store  { return p.store }

// Resolve expands names (DefaultTarget when empty) into steps.
func (p *Pipeline) Resolve(names ...string) ([]task.Step, error) {
	if len(names) == 0 {
		names = []string{DefaultTarget}
	}
	return p.resolver.Resolve(names...)
}

// Run resolves and executes names. Resolution failures are returned as the
// error and nothing runs; a failing step is reported in Result.Err.
func (p *Pipeline) Run(ctx context.Context, names ...string) (*runner.Result, error) {
	steps, err := p.Resolve(names...)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Strs("names", names).Int("steps", len(steps)).Msg("resolved")
	return p.runner.Run(ctx, steps), nil
}

// RunTasks runs tasks as one sequence and folds both kinds of failure into
// the returned error.
func (p *Pipeline) RunTasks(ctx context.Context, tasks []string) error {
	res, err := p.Run(ctx, tasks...)
	if err != nil {
		return err
	}
	return res.Error()
}

// WatchLoop builds the loop for the project's bindings, guarded by the
// state directory lock and serving the control socket.
func (p *Pipeline) WatchLoop() (*watch.Loop, error) {
	if len(p.bindings) == 0 {
		return nil, fmt.Errorf("watch: no bindings configured")
	}
	if err := os.MkdirAll(p.StateDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return watch.New(p.dir, p.bindings, p, watch.Options{
		Debounce:     time.Duration(p.project.Watch.DebounceMs) * time.Millisecond,
		ShutdownWarn: time.Duration(p.project.Watch.ShutdownWarnSec) * time.Second,
		LockPath:     filepath.Join(p.StateDir(), lockFileName),
		SocketPath:   p.SocketPath(),
		Logger:       p.logger,
		EventBus:     p.bus,
	}), nil
}

// executeWatch runs the watch loop as a long-running step; its completion
// fires when the loop stops.
func (p *Pipeline) executeWatch(ctx context.Context, _ *task.Step) *task.Completion {
	loop, err := p.WatchLoop()
	if err != nil {
		return task.Failed(err)
	}
	return task.Go(func() error {
		return loop.Run(ctx)
	})
}

// Close flushes event delivery and the run log.
func (p *Pipeline) Close() error {
	p.bus.Close()
	if p.audit != nil {
		return p.audit.Close()
	}
	return nil
}
