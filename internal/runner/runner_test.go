package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"norc/internal/config"
	"norc/internal/execution"
	"norc/internal/lifecycle"
	"norc/internal/registry"
	"norc/internal/testsupport"
)

type fixture struct {
	cfg   *config.Config
	store *registry.Store
	ds    lifecycle.DaemonStatus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ds, err := store.CreateDaemonStatus(context.Background(), cfg.Daemon.Region)
	if err != nil {
		t.Fatalf("CreateDaemonStatus: %v", err)
	}
	return &fixture{cfg: cfg, store: store, ds: ds}
}

// launch creates a task and records the running row the daemon would.
func (f *fixture) launch(t *testing.T, name, library string) (registry.Task, registry.Iteration) {
	t.Helper()
	task := testsupport.MustCreateTask(t, f.store, f.cfg, registry.TaskSpec{Job: "job-" + name, Name: name, Library: library})
	it := testsupport.MustStartIteration(t, f.store, task.Job)
	if _, err := f.store.BeginRun(context.Background(), task, it, f.ds.ID, f.cfg.Daemon.Region); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	return task, it
}

func (f *fixture) options(task registry.Task, it registry.Iteration, h *execution.Handlers, log *bytes.Buffer) Options {
	return Options{
		DaemonStatusID: f.ds.ID,
		IterationID:    it.ID,
		TaskID:         task.ID,
		Library:        task.Library,
		CorrelationID:  "cid-1",
		Log:            log,
		Handlers:       h,
	}
}

func (f *fixture) run(t *testing.T, task registry.Task, it registry.Iteration) registry.Run {
	t.Helper()
	run, err := f.store.Run(context.Background(), task.ID, it.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return run
}

func handlersWith(t *testing.T, fns map[string]execution.RunFunc) *execution.Handlers {
	t.Helper()
	h := execution.NewHandlers()
	for name, fn := range fns {
		if err := h.Register(name, fn); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	return h
}

func TestRunRecordsOutcome(t *testing.T) {
	h := handlersWith(t, map[string]execution.RunFunc{
		"ok": func(_ context.Context, rc execution.RunContext) error {
			fmt.Fprintf(rc.Log, "hello from %s\n", rc.Task.Label())
			return nil
		},
		"fail":  func(context.Context, execution.RunContext) error { return errors.New("exploded") },
		"panic": func(context.Context, execution.RunContext) error { panic("kaboom") },
		"slow":  func(context.Context, execution.RunContext) error { return execution.ErrTimedOut },
	})
	cases := []struct {
		library string
		exit    int
		status  registry.RunStatus
	}{
		{"ok", execution.ExitSuccess, registry.RunSuccess},
		{"fail", execution.ExitFailure, registry.RunError},
		{"panic", execution.ExitNoStatus, registry.RunNoStatus},
		{"slow", execution.ExitTimedOut, registry.RunTimedOut},
		{"missing", execution.ExitDidNotRun, registry.RunSkipped},
	}
	for _, tc := range cases {
		f := newFixture(t)
		task, it := f.launch(t, tc.library, tc.library)
		var log bytes.Buffer

		code := Run(context.Background(), f.cfg, f.store, f.options(task, it, h, &log))
		if code != tc.exit {
			t.Fatalf("%s: expected exit %d, got %d (log %q)", tc.library, tc.exit, code, log.String())
		}
		run := f.run(t, task, it)
		if run.Status != tc.status || run.ExitStatus == nil || *run.ExitStatus != tc.exit {
			t.Fatalf("%s: unexpected run %+v", tc.library, run)
		}
	}
}

func TestRunLogsWithTaskContext(t *testing.T) {
	f := newFixture(t)
	h := handlersWith(t, map[string]execution.RunFunc{
		"ok": func(_ context.Context, rc execution.RunContext) error {
			rc.Logger.Info("working")
			fmt.Fprintln(rc.Log, "raw output")
			return nil
		},
	})
	task, it := f.launch(t, "ctx", "ok")
	var log bytes.Buffer
	if code := Run(context.Background(), f.cfg, f.store, f.options(task, it, h, &log)); code != 0 {
		t.Fatalf("expected success, got %d", code)
	}
	out := log.String()
	for _, want := range []string{"working", "raw output", "task finished", task.Label(), "cid-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log %q", want, out)
		}
	}
}

func TestRunCancellationCause(t *testing.T) {
	cases := []struct {
		cause  error
		exit   int
		status registry.RunStatus
	}{
		{ErrInterrupted, execution.ExitInterrupted, registry.RunInterrupted},
		{ErrKilled, execution.ExitKilled, registry.RunKilled},
	}
	for _, tc := range cases {
		f := newFixture(t)
		ctx, cancel := context.WithCancelCause(context.Background())
		h := handlersWith(t, map[string]execution.RunFunc{
			"block": func(ctx context.Context, _ execution.RunContext) error {
				cancel(tc.cause)
				<-ctx.Done()
				return ctx.Err()
			},
		})
		task, it := f.launch(t, "block", "block")
		var log bytes.Buffer

		if code := Run(ctx, f.cfg, f.store, f.options(task, it, h, &log)); code != tc.exit {
			t.Fatalf("%v: expected exit %d, got %d", tc.cause, tc.exit, code)
		}
		if run := f.run(t, task, it); run.Status != tc.status {
			t.Fatalf("%v: unexpected run %+v", tc.cause, run)
		}
		cancel(nil)
	}
}

func TestRunRequiresRunningRow(t *testing.T) {
	f := newFixture(t)
	called := false
	h := handlersWith(t, map[string]execution.RunFunc{
		"ok": func(context.Context, execution.RunContext) error {
			called = true
			return nil
		},
	})
	task := testsupport.MustCreateTask(t, f.store, f.cfg, registry.TaskSpec{Job: "job-norow", Name: "norow", Library: "ok"})
	it := testsupport.MustStartIteration(t, f.store, task.Job)
	var log bytes.Buffer

	if code := Run(context.Background(), f.cfg, f.store, f.options(task, it, h, &log)); code != execution.ExitDidNotRun {
		t.Fatalf("expected exit %d, got %d", execution.ExitDidNotRun, code)
	}
	if called {
		t.Fatal("run logic executed without a running row")
	}
	if _, err := f.store.Run(context.Background(), task.ID, it.ID); err == nil {
		t.Fatal("runner created a run row")
	}
}

func TestRunKeepsFinishedRun(t *testing.T) {
	f := newFixture(t)
	h := handlersWith(t, map[string]execution.RunFunc{
		"ok": func(context.Context, execution.RunContext) error { return nil },
	})
	task, it := f.launch(t, "done", "ok")
	exit := execution.ExitKilled
	if _, err := f.store.FinishRun(context.Background(), task.ID, it.ID, registry.RunKilled, &exit, "killed"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	var log bytes.Buffer

	if code := Run(context.Background(), f.cfg, f.store, f.options(task, it, h, &log)); code != execution.ExitDidNotRun {
		t.Fatalf("expected exit %d, got %d", execution.ExitDidNotRun, code)
	}
	if run := f.run(t, task, it); run.Status != registry.RunKilled || run.Message != "killed" {
		t.Fatalf("expected finished run kept, got %+v", run)
	}
}

func TestRunRejectsMismatches(t *testing.T) {
	f := newFixture(t)
	h := handlersWith(t, map[string]execution.RunFunc{
		"ok": func(context.Context, execution.RunContext) error { return nil },
	})

	task, it := f.launch(t, "lib", "ok")
	var log bytes.Buffer
	opts := f.options(task, it, h, &log)
	opts.Library = "other"
	if code := Run(context.Background(), f.cfg, f.store, opts); code != execution.ExitDidNotRun {
		t.Fatalf("library mismatch: expected exit %d, got %d", execution.ExitDidNotRun, code)
	}
	if run := f.run(t, task, it); run.Status != registry.RunSkipped {
		t.Fatalf("library mismatch: unexpected run %+v", run)
	}

	task2, it2 := f.launch(t, "ds", "ok")
	opts = f.options(task2, it2, h, &log)
	other, err := f.store.CreateDaemonStatus(context.Background(), f.cfg.Daemon.Region)
	if err != nil {
		t.Fatalf("CreateDaemonStatus: %v", err)
	}
	opts.DaemonStatusID = other.ID
	if code := Run(context.Background(), f.cfg, f.store, opts); code != execution.ExitDidNotRun {
		t.Fatalf("daemon mismatch: expected exit %d, got %d", execution.ExitDidNotRun, code)
	}
	if run := f.run(t, task2, it2); run.Status != registry.RunRunning {
		t.Fatalf("daemon mismatch: another daemon's run was closed: %+v", run)
	}

	opts = f.options(task2, it2, h, &log)
	opts.TaskID = task2.ID + 1000
	if code := Run(context.Background(), f.cfg, f.store, opts); code != execution.ExitDidNotRun {
		t.Fatalf("unknown task: expected exit %d, got %d", execution.ExitDidNotRun, code)
	}
}

func TestRedirectOutputWithoutPath(t *testing.T) {
	out, err := RedirectOutput("", StderrToStdout)
	if err != nil {
		t.Fatalf("RedirectOutput: %v", err)
	}
	if out != os.Stdout {
		t.Fatal("expected stdout to be left alone")
	}
}

func TestOpenAppendCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "task.log")
	f, err := openAppend(path)
	if err != nil {
		t.Fatalf("openAppend: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString("line\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "line\n" {
		t.Fatalf("unexpected contents %q", data)
	}
}
