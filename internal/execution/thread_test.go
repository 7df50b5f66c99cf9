package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"norc/internal/config"
	"norc/internal/lifecycle"
	"norc/internal/logroute"
	"norc/internal/registry"
	"norc/internal/testsupport"
)

type threadFixture struct {
	cfg     *config.Config
	store   *registry.Store
	router  *logroute.Router
	backend *ThreadBackend
	ds      lifecycle.DaemonStatus
}

func newThreadFixture(t *testing.T, handlers *Handlers) *threadFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithThreadBackend())
	store := testsupport.MustOpenStore(t, cfg)
	ds, err := store.CreateDaemonStatus(context.Background(), cfg.Daemon.Region)
	if err != nil {
		t.Fatalf("CreateDaemonStatus: %v", err)
	}
	router := logroute.New(logroute.Options{DaemonLogPath: cfg.DaemonLogPath(ds.ID)})
	t.Cleanup(func() { _ = router.CloseAll() })
	backend, err := NewThreadBackend(ThreadOptions{
		Region:   cfg.Daemon.Region,
		Store:    store,
		Router:   router,
		Handlers: handlers,
	})
	if err != nil {
		t.Fatalf("NewThreadBackend: %v", err)
	}
	return &threadFixture{cfg: cfg, store: store, router: router, backend: backend, ds: ds}
}

func (f *threadFixture) start(t *testing.T, name, library string) (*ThreadTask, registry.Task, registry.Iteration) {
	t.Helper()
	task := testsupport.MustCreateTask(t, f.store, f.cfg, registry.TaskSpec{Job: "job-" + name, Name: name, Library: library})
	it := testsupport.MustStartIteration(t, f.store, task.Job)
	r, err := f.backend.Start(context.Background(), task, it, f.ds)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return r.(*ThreadTask), task, it
}

func waitDone(t *testing.T, task *ThreadTask) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func testHandlers(t *testing.T) *Handlers {
	t.Helper()
	h := NewHandlers()
	must := func(name string, fn RunFunc) {
		if err := h.Register(name, fn); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	must("ok", func(_ context.Context, rc RunContext) error {
		fmt.Fprintf(rc.Log, "hello from %s\n", rc.Task.Label())
		return nil
	})
	must("fail", func(context.Context, RunContext) error { return errors.New("exploded") })
	must("panic", func(context.Context, RunContext) error { panic("kaboom") })
	must("block", func(ctx context.Context, rc RunContext) error {
		rc.Logger.Info("waiting for cancellation")
		<-ctx.Done()
		return ctx.Err()
	})
	return h
}

func TestThreadBackendRecordsSuccess(t *testing.T) {
	f := newThreadFixture(t, testHandlers(t))
	r, task, it := f.start(t, "ok", "ok")
	waitDone(t, r)

	if r.IsRunning() {
		t.Fatal("task still running after completion")
	}
	if info := r.ExitInfo(); info.State != ExitSucceeded {
		t.Fatalf("unexpected exit info %+v", info)
	}
	run, _ := f.store.Run(context.Background(), task.ID, it.ID)
	if run.Status != registry.RunSuccess {
		t.Fatalf("unexpected run %+v", run)
	}
	if out := readLog(t, task.LogFile); !strings.Contains(out, "hello from job-ok:ok") || !strings.Contains(out, "task finished") {
		t.Fatalf("unexpected task log %q", out)
	}
	if f.router.OpenHandles() != 0 {
		t.Fatalf("expected task log handle closed, %d open", f.router.OpenHandles())
	}
	if !errors.Is(r.Interrupt(context.Background()), ErrAlreadyFinished) {
		t.Fatal("expected ErrAlreadyFinished")
	}
	running, _ := f.backend.Running(context.Background())
	if len(running) != 0 {
		t.Fatalf("expected no running tasks, got %d", len(running))
	}
}

func TestThreadBackendCatchesFailures(t *testing.T) {
	f := newThreadFixture(t, testHandlers(t))

	failed, failTask, failIt := f.start(t, "fail", "fail")
	panicked, panicTask, panicIt := f.start(t, "panic", "panic")
	unknown, unknownTask, unknownIt := f.start(t, "unknown", "not-registered")
	waitDone(t, failed)
	waitDone(t, panicked)
	waitDone(t, unknown)

	cases := []struct {
		task registry.Task
		it   registry.Iteration
		want registry.RunStatus
	}{
		{failTask, failIt, registry.RunError},
		{panicTask, panicIt, registry.RunNoStatus},
		{unknownTask, unknownIt, registry.RunSkipped},
	}
	for _, tc := range cases {
		run, _ := f.store.Run(context.Background(), tc.task.ID, tc.it.ID)
		if run.Status != tc.want {
			t.Fatalf("%s: expected %s, got %+v", tc.task.Label(), tc.want, run)
		}
	}
	if info := panicked.ExitInfo(); info.State != ExitFailed || info.Status != ExitNoStatus {
		t.Fatalf("unexpected panic exit info %+v", info)
	}
	if out := readLog(t, failTask.LogFile); !strings.Contains(out, "exploded") {
		t.Fatalf("expected failure in task log, got %q", out)
	}
}

func TestThreadTaskInterrupt(t *testing.T) {
	f := newThreadFixture(t, testHandlers(t))
	r, task, it := f.start(t, "block", "block")

	waitFor(t, 5*time.Second, func() bool {
		data, _ := os.ReadFile(task.LogFile)
		return strings.Contains(string(data), "waiting for cancellation")
	})
	if !r.IsRunning() || r.Preemptive() {
		t.Fatal("expected a running, non-preemptive task")
	}
	if err := r.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	waitDone(t, r)

	run, _ := f.store.Run(context.Background(), task.ID, it.ID)
	if run.Status != registry.RunError || run.Message != InterruptedMessage {
		t.Fatalf("expected interruption recorded as error, got %+v", run)
	}
	if !r.Interrupted() {
		t.Fatal("expected task to report interruption")
	}
	if out := readLog(t, task.LogFile); !strings.Contains(out, InterruptedMessage) {
		t.Fatalf("expected interruption line in task log, got %q", out)
	}
	closed, _ := f.store.Iteration(context.Background(), it.ID)
	if closed.Status != registry.IterationDone {
		t.Fatalf("expected iteration closed, got %s", closed.Status)
	}
}

func TestThreadTaskNotStarted(t *testing.T) {
	task := &ThreadTask{}
	if !errors.Is(task.Interrupt(context.Background()), ErrNotStarted) {
		t.Fatal("expected ErrNotStarted")
	}
	if task.ExitInfo().State != ExitPending {
		t.Fatalf("unexpected exit info %+v", task.ExitInfo())
	}
}

func TestThreadBackendStartRejectsDuplicateRun(t *testing.T) {
	f := newThreadFixture(t, testHandlers(t))
	r, task, it := f.start(t, "dup", "block")
	defer func() {
		_ = r.Interrupt(context.Background())
		f.backend.Wait()
	}()
	if _, err := f.backend.Start(context.Background(), task, it, f.ds); !errors.Is(err, registry.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
	running, _ := f.backend.Running(context.Background())
	if len(running) != 1 {
		t.Fatalf("expected one running task, got %d", len(running))
	}
}
