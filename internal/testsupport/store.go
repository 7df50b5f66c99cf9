package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"norc/internal/config"
	"norc/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
// The daemon region from cfg is registered.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	if cfg.Daemon.Region != "" {
		if err := store.EnsureRegion(context.Background(), cfg.Daemon.Region); err != nil {
			t.Fatalf("EnsureRegion: %v", err)
		}
	}
	return store
}

// MustCreateTask adds a task to job with its log under the config's log dir.
func MustCreateTask(t testing.TB, store *registry.Store, cfg *config.Config, spec registry.TaskSpec) registry.Task {
	t.Helper()

	if spec.LogFile == "" {
		spec.LogFile = cfg.TaskLogPath(spec.Job, spec.Name)
	}
	task, err := store.CreateTask(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateTask %s:%s: %v", spec.Job, spec.Name, err)
	}
	return task
}

// MustStartIteration opens an iteration for job.
func MustStartIteration(t testing.TB, store *registry.Store, job string) registry.Iteration {
	t.Helper()

	it, err := store.StartIteration(context.Background(), job)
	if err != nil {
		t.Fatalf("StartIteration %s: %v", job, err)
	}
	return it
}

// MustSetCapacity sets a resource capacity in region.
func MustSetCapacity(t testing.TB, store *registry.Store, region, resource string, capacity int) {
	t.Helper()

	if err := store.SetResourceCapacity(context.Background(), region, resource, capacity); err != nil {
		t.Fatalf("SetResourceCapacity %s/%s: %v", region, resource, err)
	}
}

// TaskLog returns the log path a task spec will get from MustCreateTask.
func TaskLog(cfg *config.Config, job, name string) string {
	return filepath.Clean(cfg.TaskLogPath(job, name))
}
