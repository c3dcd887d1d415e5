package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/taskflow/internal/lock"
	"github.com/msageha/taskflow/internal/logging"
	"github.com/msageha/taskflow/internal/model"
	"github.com/msageha/taskflow/internal/runner"
	"github.com/msageha/taskflow/internal/task"
	"github.com/msageha/taskflow/internal/uds"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	gate  chan struct{}
	err   error
}

func (f *fakeRunner) RunTasks(_ context.Context, tasks []string) error {
	f.mu.Lock()
	f.calls = append(f.calls, tasks)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) snapshot() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func testBindings(t *testing.T) []*Binding {
	t.Helper()
	bindings, err := BindingsFrom(model.BindingList{
		{Name: "bower", Files: []string{"components"}, Tasks: []string{"bower"}},
		{Name: "less", Files: []string{"less/**/*.less"}, Tasks: []string{"less:dev"}},
		{Name: "js", Files: []string{"js/**/*.js", "!js/**/*.min.js"}, Tasks: []string{"requirejs:dev"}},
	})
	require.NoError(t, err)
	return bindings
}

func startLoop(t *testing.T, root string, runner Runner, opts Options) *Loop {
	t.Helper()
	opts.Logger = logging.Nop()
	l := New(root, testBindings(t), runner, opts)
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()
	t.Cleanup(func() {
		l.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
	})
	return l
}

func TestBinding_Match(t *testing.T) {
	b := testBindings(t)
	assert.True(t, b[1].Match("less/site.less"))
	assert.True(t, b[1].Match("less/pages/home.less"))
	assert.False(t, b[1].Match("js/app.js"))
	assert.True(t, b[2].Match("js/app.js"))
	assert.False(t, b[2].Match("js/app.min.js"))
	assert.True(t, b[0].Match("components/jquery/jquery.js"))

	_, err := NewBinding("x", nil, []string{"a"})
	assert.Error(t, err)
	_, err = NewBinding("x", []string{"a"}, nil)
	assert.Error(t, err)
}

func TestNotify_TriggersOnlyMatchingBinding(t *testing.T) {
	runner := &fakeRunner{}
	l := startLoop(t, t.TempDir(), runner, Options{})

	assert.True(t, l.Notify("less/site.less"))
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, [][]string{{"less:dev"}}, runner.snapshot(), "js binding must not run")
	assert.False(t, l.Notify("README.md"))
}

func TestFileChange_TriggersBinding(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "less", "pages"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "js"), 0o755))

	runner := &fakeRunner{}
	startLoop(t, root, runner, Options{Debounce: 20 * time.Millisecond})
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "less", "pages", "home.less"), []byte("a{}"), 0o644))
	require.Eventually(t, func() bool { return runner.count() >= 1 }, 3*time.Second, 10*time.Millisecond)

	for _, call := range runner.snapshot() {
		assert.Equal(t, []string{"less:dev"}, call)
	}
}

func TestFileChange_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "js"), 0o755))

	runner := &fakeRunner{}
	startLoop(t, root, runner, Options{})
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "js", "lib"), 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "js", "lib", "util.js"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, c := range runner.snapshot() {
			if len(c) == 1 && c[0] == "requirejs:dev" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEventsDuringRun_CoalesceIntoOneRerun(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	l := startLoop(t, t.TempDir(), runner, Options{})

	l.Notify("less/site.less")
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		l.Notify("less/site.less")
	}
	assert.True(t, l.Status().Bindings[1].Pending)

	close(runner.gate)
	require.Eventually(t, func() bool { return runner.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, runner.count())
}

func TestPendingBindings_RunInDeclarationOrder(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	l := startLoop(t, t.TempDir(), runner, Options{})

	l.Notify("js/app.js")
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	l.Notify("js/app.js")
	l.Notify("less/site.less")
	l.Notify("components/x")
	close(runner.gate)

	require.Eventually(t, func() bool { return runner.count() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{
		{"requirejs:dev"},
		{"bower"},
		{"less:dev"},
		{"requirejs:dev"},
	}, runner.snapshot())
}

func TestFailedRun_KeepsWatching(t *testing.T) {
	runner := &fakeRunner{err: errors.New("step 1 (less:dev) failed")}
	l := startLoop(t, t.TempDir(), runner, Options{})

	l.Notify("less/a.less")
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	l.Notify("less/a.less")
	require.Eventually(t, func() bool { return runner.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return l.Status().Bindings[1].Failures == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, l.Status().Bindings[1].LastErr, "less:dev")
}

func TestTrigger(t *testing.T) {
	runner := &fakeRunner{}
	l := startLoop(t, t.TempDir(), runner, Options{})

	require.NoError(t, l.Trigger("js"))
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, l.Trigger("coffee"), ErrUnknownBinding)
}

func TestStop_EndsRun(t *testing.T) {
	l := New(t.TempDir(), testBindings(t), &fakeRunner{}, Options{Logger: logging.Nop()})
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	l.Stop()
	l.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestContextCancel_EndsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(t.TempDir(), testBindings(t), &fakeRunner{}, Options{Logger: logging.Nop()})
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// sequenceRunner runs a two-step sequence through the real runner. The
// first step blocks until release is closed.
type sequenceRunner struct {
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	step2Ran atomic.Bool
	err      atomic.Value
}

func (s *sequenceRunner) RunTasks(ctx context.Context, tasks []string) error {
	steps := []task.Step{
		{Index: 1, Task: "a", Executor: task.ExecutorFunc(func(context.Context, *task.Step) *task.Completion {
			s.once.Do(func() { close(s.started) })
			<-s.release
			return task.Succeeded()
		})},
		{Index: 2, Task: "b", Executor: task.ExecutorFunc(func(context.Context, *task.Step) *task.Completion {
			s.step2Ran.Store(true)
			return task.Succeeded()
		})},
	}
	err := runner.New(logging.Nop()).Run(ctx, steps).Error()
	if err != nil {
		s.err.Store(err)
	}
	return err
}

func TestContextCancel_DoesNotInterruptTriggeredRun(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "watch.lock")
	seq := &sequenceRunner{started: make(chan struct{}), release: make(chan struct{})}
	l := New(t.TempDir(), testBindings(t), seq, Options{
		Logger:       logging.Nop(),
		LockPath:     lockPath,
		ShutdownWarn: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, l.Trigger("less"))
	select {
	case <-seq.started:
	case <-time.After(3 * time.Second):
		t.Fatal("triggered run did not start")
	}
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a triggered run was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	assert.ErrorIs(t, lock.NewFileLock(lockPath).TryLock(), lock.ErrLocked, "lock held until the run ends")

	close(seq.release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the triggered run finished")
	}
	assert.True(t, seq.step2Ran.Load(), "step 2 runs after the loop was cancelled")
	assert.Nil(t, seq.err.Load())
}

func TestLock_SecondLoopRejected(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "watch.lock")
	held := lock.NewFileLock(lockPath)
	require.NoError(t, held.TryLock())
	defer held.Unlock()

	l := New(t.TempDir(), testBindings(t), &fakeRunner{}, Options{Logger: logging.Nop(), LockPath: lockPath})
	err := l.Run(context.Background())
	assert.ErrorIs(t, err, lock.ErrLocked)
}

func TestControlSocket(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "tf-watch-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, uds.SocketName)

	runner := &fakeRunner{}
	startLoop(t, t.TempDir(), runner, Options{SocketPath: sock})
	client := uds.NewClient(sock)
	client.SetTimeout(2 * time.Second)
	require.Eventually(t, func() bool { return client.Call(uds.CmdPing, nil, nil) == nil }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Call(uds.CmdTrigger, uds.TriggerParams{Binding: "less"}, nil))
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	err = client.Call(uds.CmdTrigger, uds.TriggerParams{Binding: "nope"}, nil)
	var detail *uds.ErrorDetail
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, uds.ErrCodeNotFound, detail.Code)

	var st uds.StatusData
	require.Eventually(t, func() bool {
		if err := client.Call(uds.CmdStatus, nil, &st); err != nil {
			return false
		}
		return st.Bindings[1].Runs == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "less", st.Bindings[1].Name)
	assert.Equal(t, os.Getpid(), st.PID)

	require.NoError(t, client.Call(uds.CmdShutdown, nil, nil))
	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return os.IsNotExist(err)
	}, 3*time.Second, 10*time.Millisecond)
}
