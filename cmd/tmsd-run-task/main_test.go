package main

import (
	"context"
	"strconv"
	"testing"

	"norc/internal/execution"
	"norc/internal/registry"
	"norc/internal/tasklib"
	"norc/internal/testsupport"
)

func TestExecuteMissingFlags(t *testing.T) {
	if code := execute(context.Background(), []string{"--task_id", "1"}, false); code != execution.ExitDidNotRun {
		t.Fatalf("expected exit %d, got %d", execution.ExitDidNotRun, code)
	}
}

func TestExecuteRunsTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	t.Setenv("NORC_LOG_DIR", cfg.Paths.LogDir)
	t.Setenv("NORC_REGISTRY_PATH", cfg.Paths.RegistryPath)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	ds, err := store.CreateDaemonStatus(ctx, cfg.Daemon.Region)
	if err != nil {
		t.Fatalf("CreateDaemonStatus: %v", err)
	}
	task := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "noop", Library: tasklib.Noop})
	it := testsupport.MustStartIteration(t, store, task.Job)
	if _, err := store.BeginRun(ctx, task, it, ds.ID, cfg.Daemon.Region); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	args := []string{
		"--daemon_status_id", strconv.FormatInt(ds.ID, 10),
		"--iteration_id", strconv.FormatInt(it.ID, 10),
		"--task_library", tasklib.Noop,
		"--task_id", strconv.FormatInt(task.ID, 10),
		"--config", t.TempDir() + "/absent.toml",
	}
	if code := execute(ctx, args, false); code != execution.ExitSuccess {
		t.Fatalf("expected success, got %d", code)
	}
	run, err := store.Run(ctx, task.ID, it.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != registry.RunSuccess {
		t.Fatalf("unexpected run %+v", run)
	}
}
