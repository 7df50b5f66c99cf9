package registry_test

import (
	"context"
	"testing"

	"norc/internal/registry"
	"norc/internal/testsupport"
)

func labels(cands []registry.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Task.Label())
	}
	return out
}

func TestEligibleTasksExcludesRunAndForeignRegion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := store.EnsureRegion(ctx, "elsewhere"); err != nil {
		t.Fatalf("EnsureRegion: %v", err)
	}

	a := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "a", Library: "noop"})
	testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "b", Library: "noop", Region: "elsewhere"})
	testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "c", Library: "noop", Region: cfg.Daemon.Region})
	it := testsupport.MustStartIteration(t, store, "job")
	ds, _ := store.CreateDaemonStatus(ctx, cfg.Daemon.Region)

	got, err := store.EligibleTasks(ctx, cfg.Daemon.Region, registry.EligibleOptions{})
	if err != nil {
		t.Fatalf("EligibleTasks: %v", err)
	}
	if l := labels(got); len(l) != 2 || l[0] != "job:a" || l[1] != "job:c" {
		t.Fatalf("unexpected candidates %v", l)
	}
	if got[0].Iteration.ID != it.ID {
		t.Fatalf("unexpected iteration %+v", got[0].Iteration)
	}

	if _, err := store.BeginRun(ctx, a, it, ds.ID, cfg.Daemon.Region); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	got, _ = store.EligibleTasks(ctx, cfg.Daemon.Region, registry.EligibleOptions{})
	if l := labels(got); len(l) != 1 || l[0] != "job:c" {
		t.Fatalf("expected running task to be excluded, got %v", l)
	}
}

func TestEligibleTasksPrefersCompletingExisting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "old", Name: "x", Library: "noop"})
	newA := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "new", Name: "a", Library: "noop"})
	testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "new", Name: "b", Library: "noop"})
	testsupport.MustStartIteration(t, store, "old")
	newIt := testsupport.MustStartIteration(t, store, "new")
	ds, _ := store.CreateDaemonStatus(ctx, cfg.Daemon.Region)

	if _, err := store.BeginRun(ctx, newA, newIt, ds.ID, cfg.Daemon.Region); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, err := store.FinishRun(ctx, newA.ID, newIt.ID, registry.RunSuccess, nil, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	plain, _ := store.EligibleTasks(ctx, cfg.Daemon.Region, registry.EligibleOptions{})
	if l := labels(plain); len(l) != 2 || l[0] != "old:x" {
		t.Fatalf("expected oldest iteration first, got %v", l)
	}

	preferred, _ := store.EligibleTasks(ctx, cfg.Daemon.Region, registry.EligibleOptions{PreferCompletingExisting: true, Limit: 1})
	if l := labels(preferred); len(l) != 1 || l[0] != "new:b" {
		t.Fatalf("expected partially completed iteration first, got %v", l)
	}
}

func TestEligibleTasksHonoursDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	extract := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "etl", Name: "extract", Library: "noop"})
	testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "etl", Name: "load", Library: "noop", DependsOn: []string{"extract"}})
	testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "etl", Name: "report", Library: "noop", DependsOn: []string{"load"}})
	it := testsupport.MustStartIteration(t, store, "etl")
	ds, _ := store.CreateDaemonStatus(ctx, cfg.Daemon.Region)

	got, _ := store.EligibleTasks(ctx, cfg.Daemon.Region, registry.EligibleOptions{})
	if l := labels(got); len(l) != 1 || l[0] != "etl:extract" {
		t.Fatalf("expected only extract eligible, got %v", l)
	}

	if _, err := store.BeginRun(ctx, extract, it, ds.ID, cfg.Daemon.Region); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, err := store.FinishRun(ctx, extract.ID, it.ID, registry.RunError, nil, "boom"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, _ = store.EligibleTasks(ctx, cfg.Daemon.Region, registry.EligibleOptions{})
	if len(got) != 0 {
		t.Fatalf("expected dependents of a failed task to be skipped, got %v", labels(got))
	}
	closed, _ := store.Iteration(ctx, it.ID)
	if closed.Status != registry.IterationDone {
		t.Fatalf("expected iteration closed after skipping dependents, got %s", closed.Status)
	}
	runs, _ := store.ListRuns(ctx, it.ID)
	if len(runs) != 3 || runs[1].Status != registry.RunSkipped || runs[2].Status != registry.RunSkipped {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestResourcesAvailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	region := cfg.Daemon.Region

	testsupport.MustSetCapacity(t, store, region, "cpu", 3)
	big := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "big", Library: "noop",
		Demands: []registry.Demand{{Resource: "cpu", Units: 2}}})
	small := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "small", Library: "noop",
		Demands: []registry.Demand{{Resource: "cpu", Units: 1}}})
	other := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "other", Library: "noop",
		Demands: []registry.Demand{{Resource: "cpu", Units: 2}}})
	gpu := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "gpu", Library: "noop",
		Demands: []registry.Demand{{Resource: "gpu", Units: 1}}})
	free := testsupport.MustCreateTask(t, store, cfg, registry.TaskSpec{Job: "job", Name: "free", Library: "noop"})
	it := testsupport.MustStartIteration(t, store, "job")
	ds, _ := store.CreateDaemonStatus(ctx, region)

	check := func(task registry.Task, want bool) {
		t.Helper()
		got, err := store.ResourcesAvailable(ctx, task, region)
		if err != nil {
			t.Fatalf("ResourcesAvailable(%s): %v", task.Label(), err)
		}
		if got != want {
			t.Fatalf("ResourcesAvailable(%s) = %v, want %v", task.Label(), got, want)
		}
	}

	check(big, true)
	check(gpu, false)
	check(free, true)

	if _, err := store.BeginRun(ctx, big, it, ds.ID, region); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	check(small, true)
	check(other, false)

	resources, err := store.Resources(ctx, region)
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	if len(resources) != 1 || resources[0].InUse != 2 || resources[0].Capacity != 3 {
		t.Fatalf("unexpected resources %+v", resources)
	}

	if _, err := store.FinishRun(ctx, big.ID, it.ID, registry.RunSuccess, nil, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	check(other, true)
}
