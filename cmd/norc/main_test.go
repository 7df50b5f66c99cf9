package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"norc/internal/config"
	"norc/internal/lifecycle"
	"norc/internal/registry"
)

type cliTestEnv struct {
	configPath string
	cfg        *config.Config
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	configPath := filepath.Join(base, "norc.toml")
	content := fmt.Sprintf("[paths]\nlog_dir = %q\nregistry_path = %q\n",
		filepath.Join(base, "logs"), filepath.Join(base, "norc.db"))
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return &cliTestEnv{configPath: configPath, cfg: cfg}
}

func (e *cliTestEnv) openStore(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.Open(e.cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, env *cliTestEnv, args ...string) string {
	t.Helper()
	out, err := runCLI(t, env, args...)
	if err != nil {
		t.Fatalf("norc %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestCatalogCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	requireContains(t, mustRunCLI(t, env, "region", "add", "east"), "Region east registered")
	requireContains(t, mustRunCLI(t, env, "resource", "set", "east", "cpu", "4"), "set to 4")
	requireContains(t, mustRunCLI(t, env, "resource", "list", "east"), "cpu")

	out := mustRunCLI(t, env, "task", "add", "--job", "nightly", "--name", "build",
		"--library", "command", "--args", "echo hi", "--demand", "cpu=2")
	requireContains(t, out, "Task nightly:build added")
	out = mustRunCLI(t, env, "task", "add", "--job", "nightly", "--name", "publish",
		"--library", "noop", "--depends-on", "build")
	requireContains(t, out, "Task nightly:publish added")

	out = mustRunCLI(t, env, "task", "list", "--job", "nightly")
	requireContains(t, out, "build")
	requireContains(t, out, "publish")
	out = mustRunCLI(t, env, "task", "list", "--json")
	requireContains(t, out, `"library": "command"`)
	requireContains(t, out, `"args": "echo hi"`)

	requireContains(t, mustRunCLI(t, env, "iteration", "start", "nightly"), "started for job nightly")
	requireContains(t, mustRunCLI(t, env, "iteration", "show", "1"), "No runs yet")

	store := env.openStore(t)
	tasks, err := store.ListTasks(context.Background(), "nightly")
	if err != nil || len(tasks) != 2 {
		t.Fatalf("expected two tasks, got %d (%v)", len(tasks), err)
	}
	demands, err := store.Demands(context.Background(), tasks[0].ID)
	if err != nil || len(demands) != 1 || demands[0].Units != 2 {
		t.Fatalf("unexpected demands %+v (%v)", demands, err)
	}
}

func TestCatalogCommandErrors(t *testing.T) {
	env := setupCLITestEnv(t)
	cases := [][]string{
		{"resource", "set", "missing", "cpu", "1"},
		{"resource", "set", "east", "cpu", "many"},
		{"task", "add", "--job", "j", "--name", "n", "--library", "noop", "--demand", "cpu"},
		{"iteration", "start", "no-such-job"},
		{"daemon", "stop", "zero"},
	}
	for _, args := range cases {
		if _, err := runCLI(t, env, args...); err == nil {
			t.Fatalf("norc %s: expected error", strings.Join(args, " "))
		}
	}
}

func TestDaemonRequests(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "region", "add", "east")
	store := env.openStore(t)
	ds, err := store.CreateDaemonStatus(context.Background(), "east")
	if err != nil {
		t.Fatalf("CreateDaemonStatus: %v", err)
	}
	id := fmt.Sprint(ds.ID)

	requireContains(t, mustRunCLI(t, env, "daemon", "pause", id), "Pause Requested")
	requireContains(t, mustRunCLI(t, env, "daemon", "resume", id), "Running")
	requireContains(t, mustRunCLI(t, env, "daemon", "resume", id), "resume request not applied")
	requireContains(t, mustRunCLI(t, env, "daemon", "stop", id), "Stop Requested")
	requireContains(t, mustRunCLI(t, env, "daemon", "pause", id), "pause request not applied")
	requireContains(t, mustRunCLI(t, env, "daemon", "kill", id), "Kill Requested")

	current, err := store.DaemonStatus(context.Background(), ds.ID)
	if err != nil {
		t.Fatalf("DaemonStatus: %v", err)
	}
	if current.Status != lifecycle.StatusKillRequested {
		t.Fatalf("expected KILLREQUESTED, got %s", current.Status)
	}

	out := mustRunCLI(t, env, "daemon", "list", "--status", "killrequested")
	requireContains(t, out, "Kill Requested")
	requireContains(t, mustRunCLI(t, env, "daemon", "list", "--status", "killed"), "No daemon runs recorded")
	requireContains(t, mustRunCLI(t, env, "daemon", "list", "--json"), `"status": "KILLREQUESTED"`)
}

func TestStatusLabel(t *testing.T) {
	cases := map[lifecycle.Status]string{
		lifecycle.StatusRunning:         "Running",
		lifecycle.StatusStopRequested:   "Stop Requested",
		lifecycle.StatusEndedGracefully: "Ended Gracefully",
	}
	for status, want := range cases {
		if got := statusLabel(status); got != want {
			t.Fatalf("statusLabel(%s) = %q, want %q", status, got, want)
		}
	}
	if got := renderStatus(lifecycle.StatusKilled, true); !strings.HasPrefix(got, ansiRed) {
		t.Fatalf("expected red killed status, got %q", got)
	}
	if runStatusLabel(registry.RunNoStatus) != "No Status" || runStatusLabel(registry.RunSuccess) != "Success" {
		t.Fatal("unexpected run status labels")
	}
}

func TestConfigInit(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(t.TempDir(), "config.toml")
	requireContains(t, mustRunCLI(t, env, "config", "init", "--path", target), "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error for existing config")
	}
	out := mustRunCLI(t, env, "config", "validate")
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Region: not set")
}

func TestConfigShowPrintsEffectiveValues(t *testing.T) {
	env := setupCLITestEnv(t)
	out := mustRunCLI(t, env, "config", "show")
	requireContains(t, out, "[paths]")
	requireContains(t, out, env.cfg.Paths.RegistryPath)
	requireContains(t, out, "poll_frequency")
}

func TestTaskLogCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := filepath.Join(t.TempDir(), "build.log")
	mustRunCLI(t, env, "task", "add", "--job", "j", "--name", "build", "--library", "noop", "--log-file", logPath)

	requireContains(t, mustRunCLI(t, env, "task", "log", "1"), "No output in "+logPath)
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out := mustRunCLI(t, env, "task", "log", "1", "-n", "2")
	if strings.Contains(out, "first") || !strings.Contains(out, "second\nthird") {
		t.Fatalf("unexpected tail %q", out)
	}
	if _, err := runCLI(t, env, "task", "log", "99"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}
