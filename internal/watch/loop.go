package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/taskflow/internal/events"
	"github.com/msageha/taskflow/internal/lock"
	"github.com/msageha/taskflow/internal/logging"
	"github.com/msageha/taskflow/internal/uds"
)

var ErrUnknownBinding = errors.New("unknown watch binding")

// Runner runs a list of task references. Watch triggers go through it
// rather than through the default pipeline.
type Runner interface {
	RunTasks(ctx context.Context, tasks []string) error
}

type Options struct {
	Debounce time.Duration
	// ShutdownWarn is how often Run logs while it waits for an in-flight
	// run after Stop.
	ShutdownWarn time.Duration
	// LockPath and SocketPath are optional; empty disables them.
	LockPath   string
	SocketPath string
	Logger     zerolog.Logger
	EventBus   *events.Bus
}

type bindingStats struct {
	runs     int
	failures int
	lastRun  time.Time
	lastErr  string
}

// Loop observes the project tree and dispatches bindings one at a time.
// A binding changed while its run is in flight is re-run once afterwards,
// however many events arrived in between.
type Loop struct {
	root     string
	bindings []*Binding
	runner   Runner
	opts     Options
	logger   zerolog.Logger

	mu      sync.Mutex
	pending []bool
	stats   []bindingStats
	running string

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	watcher *fsnotify.Watcher
	watched map[string]bool
}

func New(root string, bindings []*Binding, runner Runner, opts Options) *Loop {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if opts.ShutdownWarn <= 0 {
		opts.ShutdownWarn = 30 * time.Second
	}
	return &Loop{
		root:     root,
		bindings: bindings,
		runner:   runner,
		opts:     opts,
		logger:   logging.Component(opts.Logger, "watch"),
		pending:  make([]bool, len(bindings)),
		stats:    make([]bindingStats, len(bindings)),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		watched:  make(map[string]bool),
	}
}

// Notify feeds a changed path (absolute, or relative to the root) into the
// loop and reports whether any binding matched it.
func (l *Loop) Notify(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(l.root, path)
		if err != nil {
			return false
		}
		rel = r
	}
	matched := false
	l.mu.Lock()
	for i, b := range l.bindings {
		if b.Match(rel) {
			l.pending[i] = true
			matched = true
		}
	}
	l.mu.Unlock()
	if matched {
		l.logger.Debug().Str("path", rel).Msg("change queued")
		l.signal()
	}
	return matched
}

// Trigger marks a binding pending by name.
func (l *Loop) Trigger(name string) error {
	l.mu.Lock()
	found := false
	for i, b := range l.bindings {
		if b.Name == name {
			l.pending[i] = true
			found = true
		}
	}
	l.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownBinding, name)
	}
	l.signal()
	return nil
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop ends observation. A run in flight completes first.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run observes until Stop is called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if l.opts.LockPath != "" {
		fl := lock.NewFileLock(l.opts.LockPath)
		if err := fl.TryLock(); err != nil {
			return fmt.Errorf("watch lock: %w", err)
		}
		defer func() { _ = fl.Unlock() }()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	l.watcher = watcher
	defer func() { _ = watcher.Close() }()

	for _, b := range l.bindings {
		for _, dir := range b.roots() {
			l.addTree(filepath.Join(l.root, dir))
		}
	}

	if l.opts.SocketPath != "" {
		srv := uds.NewServer(l.opts.SocketPath, l.opts.Logger)
		l.registerHandlers(srv)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start control socket: %w", err)
		}
		defer srv.Stop()
	}

	l.logger.Info().Int("bindings", len(l.bindings)).Int("dirs", len(l.watched)).Str("root", l.root).
		Msg("watching")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.observe(gctx) })
	g.Go(func() error { return l.dispatch(ctx) })

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-l.stop:
	case <-ctx.Done():
	}
	l.Stop()

	// The lock and the socket stay up until an in-flight run has finished.
	tick := time.NewTicker(l.opts.ShutdownWarn)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			l.logger.Info().Msg("watch stopped")
			return err
		case <-tick.C:
			l.logger.Warn().Str("binding", l.Status().Running).Dur("waited", l.opts.ShutdownWarn).
				Msg("waiting for triggered run to finish")
		}
	}
}

// addTree registers dir and its subdirectories. A path that is a file, or
// does not exist yet, registers its nearest existing parent.
func (l *Loop) addTree(dir string) {
	info, err := os.Stat(dir)
	for err != nil || !info.IsDir() {
		parent := filepath.Dir(dir)
		if parent == dir || !strings.HasPrefix(parent, l.root) {
			return
		}
		dir = parent
		info, err = os.Stat(dir)
	}
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		l.add(p)
		return nil
	})
}

func skipDir(name string) bool {
	return name == ".git" || name == "node_modules" || name == ".taskflow"
}

func (l *Loop) add(dir string) {
	if l.watched[dir] {
		return
	}
	if err := l.watcher.Add(dir); err != nil {
		l.logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch directory")
		return
	}
	l.watched[dir] = true
}

func (l *Loop) observe(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case event, ok := <-l.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
					l.addTree(event.Name)
				}
			}
			l.logger.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("fsnotify event")
			l.Notify(event.Name)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (l *Loop) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case <-l.wake:
		}

		if l.opts.Debounce > 0 {
			select {
			case <-time.After(l.opts.Debounce):
			case <-ctx.Done():
				return nil
			case <-l.stop:
				return nil
			}
		}

		for {
			i, ok := l.next()
			if !ok {
				break
			}
			l.runBinding(ctx, i)
			select {
			case <-l.stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}
		}
	}
}

// next claims the first pending binding in declaration order.
func (l *Loop) next() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, p := range l.pending {
		if p {
			l.pending[i] = false
			l.running = l.bindings[i].Name
			return i, true
		}
	}
	return 0, false
}

func (l *Loop) runBinding(ctx context.Context, i int) {
	b := l.bindings[i]
	l.opts.EventBus.Publish(events.EventWatchTriggered, map[string]any{
		"binding": b.Name,
		"tasks":   b.Tasks,
	})
	l.logger.Info().Str("binding", b.Name).Strs("tasks", b.Tasks).Msg("change detected")

	// Stopping the loop takes effect between runs, never inside one.
	err := l.runner.RunTasks(context.WithoutCancel(ctx), b.Tasks)

	l.mu.Lock()
	l.running = ""
	s := &l.stats[i]
	s.runs++
	s.lastRun = time.Now()
	s.lastErr = ""
	if err != nil {
		s.failures++
		s.lastErr = err.Error()
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.Error().Err(err).Str("binding", b.Name).Msg("triggered run failed, still watching")
	}
}

// Status reports per-binding counters.
func (l *Loop) Status() uds.StatusData {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := uds.StatusData{PID: os.Getpid(), Root: l.root, Running: l.running}
	for i, b := range l.bindings {
		bs := uds.BindingStatus{
			Name:     b.Name,
			Files:    b.Files,
			Tasks:    b.Tasks,
			Pending:  l.pending[i],
			Runs:     l.stats[i].runs,
			Failures: l.stats[i].failures,
			LastErr:  l.stats[i].lastErr,
		}
		if !l.stats[i].lastRun.IsZero() {
			bs.LastRun = l.stats[i].lastRun.Format(time.RFC3339)
		}
		st.Bindings = append(st.Bindings, bs)
	}
	return st
}
