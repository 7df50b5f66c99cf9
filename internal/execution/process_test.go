package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"norc/internal/config"
	"norc/internal/lifecycle"
	"norc/internal/registry"
	"norc/internal/testsupport"
)

type processFixture struct {
	cfg     *config.Config
	store   *registry.Store
	backend *ProcessBackend
	ds      lifecycle.DaemonStatus
}

func newProcessFixture(t *testing.T, runner string) *processFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ds, err := store.CreateDaemonStatus(context.Background(), cfg.Daemon.Region)
	if err != nil {
		t.Fatalf("CreateDaemonStatus: %v", err)
	}
	backend, err := NewProcessBackend(ProcessOptions{
		Region:       cfg.Daemon.Region,
		RunnerBinary: runner,
		Debug:        true,
		Env:          []string{"NORC_TEST_MARKER=present"},
		Store:        store,
	})
	if err != nil {
		t.Fatalf("NewProcessBackend: %v", err)
	}
	return &processFixture{cfg: cfg, store: store, backend: backend, ds: ds}
}

func (f *processFixture) candidate(t *testing.T, name string) (registry.Task, registry.Iteration) {
	t.Helper()
	task := testsupport.MustCreateTask(t, f.store, f.cfg, registry.TaskSpec{Job: "job-" + name, Name: name, Library: "noop"})
	return task, testsupport.MustStartIteration(t, f.store, task.Job)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// drain polls the backend until nothing is running and returns the joined
// fatal errors seen on the way.
func drain(t *testing.T, b *ProcessBackend) error {
	t.Helper()
	var fatal error
	waitFor(t, 5*time.Second, func() bool {
		running, err := b.Running(context.Background())
		if err != nil {
			fatal = errors.Join(fatal, err)
		}
		return len(running) == 0
	})
	return fatal
}

func TestProcessBackendPassesRunnerArguments(t *testing.T) {
	runner := testsupport.WriteScript(t, t.TempDir(), "runner", `echo "args: $@"
echo "cid=$NORC_CORRELATION_ID marker=$NORC_TEST_MARKER"
exit 0`)
	f := newProcessFixture(t, runner)
	task, it := f.candidate(t, "args")

	r, err := f.backend.Start(context.Background(), task, it, f.ds)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := drain(t, f.backend); err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}

	data, err := os.ReadFile(task.LogFile)
	if err != nil {
		t.Fatalf("read task log: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"--daemon_status_id " + itoa(f.ds.ID),
		"--iteration_id " + itoa(it.ID),
		"--task_library noop",
		"--task_id " + itoa(task.ID),
		"--stdout " + task.LogFile,
		"--stderr STDOUT",
		"--debug",
		"cid=" + r.(*ProcessTask).CorrelationID(),
		"marker=present",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in runner output %q", want, out)
		}
	}

	run, err := f.store.Run(context.Background(), task.ID, it.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != registry.RunSuccess || run.ExitStatus == nil || *run.ExitStatus != 0 {
		t.Fatalf("unexpected run %+v", run)
	}
	if info := r.ExitInfo(); info.State != ExitSucceeded {
		t.Fatalf("unexpected exit info %+v", info)
	}
	if !errors.Is(r.Interrupt(context.Background()), ErrAlreadySucceeded) {
		t.Fatal("expected ErrAlreadySucceeded after clean exit")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestProcessBackendClassifiesExitStatus(t *testing.T) {
	cases := []struct {
		exit   int
		status registry.RunStatus
	}{
		{131, registry.RunInterrupted},
		{133, registry.RunSkipped},
		{5, registry.RunError},
	}
	for _, tc := range cases {
		runner := testsupport.WriteScript(t, t.TempDir(), "runner", "exit "+itoa(int64(tc.exit)))
		f := newProcessFixture(t, runner)
		task, it := f.candidate(t, "exit")

		r, err := f.backend.Start(context.Background(), task, it, f.ds)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := drain(t, f.backend); err != nil {
			t.Fatalf("exit %d: unexpected fatal error %v", tc.exit, err)
		}
		run, _ := f.store.Run(context.Background(), task.ID, it.ID)
		if run.Status != tc.status || run.ExitStatus == nil || *run.ExitStatus != tc.exit {
			t.Fatalf("exit %d: unexpected run %+v", tc.exit, run)
		}
		var exitErr *ExitError
		if err := r.Interrupt(context.Background()); !errors.As(err, &exitErr) || exitErr.Status != tc.exit {
			t.Fatalf("exit %d: expected ExitError, got %v", tc.exit, err)
		}
	}
}

func TestProcessBackendSignalIsNotAnExitStatus(t *testing.T) {
	cases := []struct {
		signal string
		want   registry.RunStatus
	}{
		{"INT", registry.RunError},
		{"QUIT", registry.RunError},
		{"KILL", registry.RunKilled},
	}
	for _, tc := range cases {
		runner := testsupport.WriteScript(t, t.TempDir(), "runner", "kill -"+tc.signal+" $$\nsleep 5")
		f := newProcessFixture(t, runner)
		task, it := f.candidate(t, "signal")

		r, err := f.backend.Start(context.Background(), task, it, f.ds)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := drain(t, f.backend); err != nil {
			t.Fatalf("SIG%s: unexpected fatal error %v", tc.signal, err)
		}
		run, _ := f.store.Run(context.Background(), task.ID, it.ID)
		if run.Status != tc.want || run.ExitStatus != nil {
			t.Fatalf("SIG%s: unexpected run %+v", tc.signal, run)
		}
		if !strings.Contains(run.Message, "SIG"+tc.signal) {
			t.Fatalf("SIG%s: expected signal in message, got %q", tc.signal, run.Message)
		}
		info := r.ExitInfo()
		if info.State != ExitFailed || info.Status != -1 || unix.SignalName(info.Signal) != "SIG"+tc.signal {
			t.Fatalf("SIG%s: unexpected exit info %+v", tc.signal, info)
		}
		var exitErr *ExitError
		if err := r.Interrupt(context.Background()); !errors.As(err, &exitErr) || exitErr.Signal != info.Signal {
			t.Fatalf("SIG%s: expected ExitError with signal, got %v", tc.signal, err)
		}
	}
}

func TestWaitExitKeepsSignalsApart(t *testing.T) {
	// Raw wait statuses: exit code in the second byte, signal in the low bits.
	exited := waitExit(unix.WaitStatus(ExitTimedOut << 8))
	if exited.signaled() || exited.Status != ExitTimedOut || exited.runStatus() != registry.RunTimedOut {
		t.Fatalf("unexpected exit %+v", exited)
	}
	for _, sig := range []unix.Signal{unix.SIGINT, unix.SIGQUIT, unix.SIGILL, unix.SIGTRAP, unix.SIGABRT} {
		got := waitExit(unix.WaitStatus(sig))
		if !got.signaled() || got.Status != -1 || got.runStatus() != registry.RunError {
			t.Fatalf("%s: unexpected exit %+v", unix.SignalName(sig), got)
		}
		if got.succeeded() || !strings.Contains(got.describe(), unix.SignalName(sig)) {
			t.Fatalf("%s: unexpected description %q", unix.SignalName(sig), got.describe())
		}
	}
	if got := waitExit(unix.WaitStatus(unix.SIGKILL)); got.runStatus() != registry.RunKilled {
		t.Fatalf("expected SIGKILL to record a kill, got %s", got.runStatus())
	}
}

func TestProcessBackendRunnerRecordedOutcomeWins(t *testing.T) {
	runner := testsupport.WriteScript(t, t.TempDir(), "runner", "exit 0")
	f := newProcessFixture(t, runner)
	task, it := f.candidate(t, "recorded")

	if _, err := f.backend.Start(context.Background(), task, it, f.ds); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Stand in for the runner writing its own result before exiting.
	exit := ExitTimedOut
	if _, err := f.store.FinishRun(context.Background(), task.ID, it.ID, registry.RunTimedOut, &exit, "deadline"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := drain(t, f.backend); err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	run, _ := f.store.Run(context.Background(), task.ID, it.ID)
	if run.Status != registry.RunTimedOut || run.Message != "deadline" {
		t.Fatalf("expected runner outcome to be kept, got %+v", run)
	}
}

func TestProcessBackendFatalExitStatuses(t *testing.T) {
	for exit, want := range map[int]error{126: ErrRunnerNotExecutable, 127: ErrRunnerNotFound} {
		runner := testsupport.WriteScript(t, t.TempDir(), "runner", "exit "+itoa(int64(exit)))
		f := newProcessFixture(t, runner)
		task, it := f.candidate(t, "fatal")
		if _, err := f.backend.Start(context.Background(), task, it, f.ds); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := drain(t, f.backend); !errors.Is(err, want) {
			t.Fatalf("exit %d: expected %v, got %v", exit, want, err)
		}
	}
}

func TestProcessBackendMissingRunner(t *testing.T) {
	f := newProcessFixture(t, filepath.Join(t.TempDir(), "does-not-exist"))
	task, it := f.candidate(t, "missing")

	_, err := f.backend.Start(context.Background(), task, it, f.ds)
	if !errors.Is(err, ErrRunnerNotFound) {
		t.Fatalf("expected ErrRunnerNotFound, got %v", err)
	}
	run, _ := f.store.Run(context.Background(), task.ID, it.ID)
	if run.Status != registry.RunError {
		t.Fatalf("expected launch failure to be recorded, got %+v", run)
	}
}

func TestProcessBackendRunnerNotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o644); err != nil {
		t.Fatalf("write runner: %v", err)
	}
	f := newProcessFixture(t, path)
	task, it := f.candidate(t, "noexec")

	if _, err := f.backend.Start(context.Background(), task, it, f.ds); !errors.Is(err, ErrRunnerNotExecutable) {
		t.Fatalf("expected ErrRunnerNotExecutable, got %v", err)
	}
}

func TestProcessTaskInterruptSendsSIGINT(t *testing.T) {
	runner := testsupport.WriteScript(t, t.TempDir(), "runner", `trap 'echo interrupted; exit 131' INT
echo ready
while :; do sleep 0.05; done`)
	f := newProcessFixture(t, runner)
	task, it := f.candidate(t, "interrupt")

	r, err := f.backend.Start(context.Background(), task, it, f.ds)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		data, _ := os.ReadFile(task.LogFile)
		return strings.Contains(string(data), "ready")
	})
	if !r.IsRunning() {
		t.Fatal("expected runner to be running")
	}
	if err := r.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if err := drain(t, f.backend); err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	info := r.ExitInfo()
	if info.State != ExitFailed || info.Status != ExitInterrupted {
		t.Fatalf("unexpected exit info %+v", info)
	}
	run, _ := f.store.Run(context.Background(), task.ID, it.ID)
	if run.Status != registry.RunInterrupted {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestProcessTaskNotStarted(t *testing.T) {
	task := &ProcessTask{backend: &ProcessBackend{}}
	if !errors.Is(task.Interrupt(context.Background()), ErrNotStarted) {
		t.Fatal("expected ErrNotStarted")
	}
	if task.IsRunning() {
		t.Fatal("unstarted task reported running")
	}
	if task.ExitInfo().State != ExitPending {
		t.Fatalf("unexpected exit info %+v", task.ExitInfo())
	}
}

func TestProcessSettleDelayHonoursContext(t *testing.T) {
	runner := testsupport.WriteScript(t, t.TempDir(), "runner", "exit 0")
	f := newProcessFixture(t, runner)
	f.backend.opts.SettleDelay = time.Minute
	task, it := f.candidate(t, "settle")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := f.backend.Start(ctx, task, it, f.ds); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("settle delay ignored context cancellation")
	}
	_ = drain(t, f.backend)
}

func TestNewProcessBackendValidates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := NewProcessBackend(ProcessOptions{Region: "r", Store: store}); err == nil {
		t.Fatal("expected error without runner")
	}
	if _, err := NewProcessBackend(ProcessOptions{RunnerBinary: "x", Store: store}); err == nil {
		t.Fatal("expected error without region")
	}
	if _, err := NewProcessBackend(ProcessOptions{RunnerBinary: "x", Region: "r"}); err == nil {
		t.Fatal("expected error without store")
	}
}
