package execution

import (
	"errors"
	"testing"

	"norc/internal/registry"
)

func TestExitTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		run    registry.RunStatus
		fatal  error
	}{
		{ExitSuccess, registry.RunSuccess, nil},
		{ExitTimedOut, registry.RunTimedOut, nil},
		{ExitInterrupted, registry.RunInterrupted, nil},
		{ExitKilled, registry.RunKilled, nil},
		{ExitDidNotRun, registry.RunSkipped, nil},
		{ExitNoStatus, registry.RunNoStatus, nil},
		{ExitNotExecutable, registry.RunError, ErrRunnerNotExecutable},
		{ExitNotFound, registry.RunError, ErrRunnerNotFound},
		{ExitFailure, registry.RunError, nil},
		{42, registry.RunError, nil},
	}
	for _, tc := range cases {
		if got := RunStatusForExit(tc.status); got != tc.run {
			t.Fatalf("RunStatusForExit(%d) = %s, want %s", tc.status, got, tc.run)
		}
		if got := FatalExit(tc.status); !errors.Is(got, tc.fatal) || (tc.fatal == nil && got != nil) {
			t.Fatalf("FatalExit(%d) = %v, want %v", tc.status, got, tc.fatal)
		}
		if DescribeExit(tc.status) == "" {
			t.Fatalf("DescribeExit(%d) is empty", tc.status)
		}
	}
	if DescribeExit(42) != "task failed with status 42" {
		t.Fatalf("unexpected description %q", DescribeExit(42))
	}
}

func TestExitForRunStatusRoundTrips(t *testing.T) {
	for _, status := range []int{ExitSuccess, ExitTimedOut, ExitInterrupted, ExitKilled, ExitDidNotRun, ExitNoStatus} {
		if got := ExitForRunStatus(RunStatusForExit(status)); got != status {
			t.Fatalf("round trip of %d gave %d", status, got)
		}
	}
	if got := ExitForRunStatus(registry.RunError); got != ExitFailure {
		t.Fatalf("expected generic failure for error runs, got %d", got)
	}
}

func TestFatal(t *testing.T) {
	if !Fatal(ErrRunnerNotFound) || !Fatal(ErrRunnerNotExecutable) {
		t.Fatal("expected runner errors to be fatal")
	}
	if Fatal(&ExitError{Status: 1}) || Fatal(nil) {
		t.Fatal("expected task failures not to be fatal")
	}
	if (&ExitError{Status: 3}).Error() != "task already failed with status 3" {
		t.Fatalf("unexpected ExitError message %q", (&ExitError{Status: 3}).Error())
	}
}
