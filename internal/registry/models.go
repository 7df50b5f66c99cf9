package registry

import (
	"fmt"
	"strings"
	"time"
)

// Task is a unit of work in a job's catalog.
type Task struct {
	ID      int64
	JobID   int64
	Job     string
	Name    string
	Library string
	// Region restricts the task to daemons of one region; empty means any.
	Region    string
	LogFile   string
	Args      string
	CreatedAt time.Time
}

// Label returns the human identifier "job:name".
func (t Task) Label() string {
	return t.Job + ":" + t.Name
}

// Type returns the key used to group tasks with the same run logic.
func (t Task) Type() string {
	return t.Library
}

// IterationStatus describes whether an iteration still has work to hand out.
type IterationStatus string

const (
	IterationRunning IterationStatus = "running"
	IterationDone    IterationStatus = "done"
)

// Iteration is one execution pass over a job's tasks.
type Iteration struct {
	ID        int64
	JobID     int64
	Status    IterationStatus
	CreatedAt time.Time
	EndedAt   *time.Time
}

// Candidate is an eligible (task, iteration) pair.
type Candidate struct {
	Task      Task
	Iteration Iteration
}

// EligibleOptions tunes EligibleTasks.
type EligibleOptions struct {
	// PreferCompletingExisting orders iterations that already have finished
	// runs ahead of untouched ones.
	PreferCompletingExisting bool
	// Limit caps the number of candidates returned; zero means no limit.
	Limit int
}

// RunStatus is the state of one task run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunError       RunStatus = "error"
	RunTimedOut    RunStatus = "timedout"
	RunInterrupted RunStatus = "interrupted"
	RunKilled      RunStatus = "killed"
	RunSkipped     RunStatus = "skipped"
	RunNoStatus    RunStatus = "nostatus"
)

var runStatuses = []RunStatus{
	RunRunning, RunSuccess, RunError, RunTimedOut, RunInterrupted, RunKilled, RunSkipped, RunNoStatus,
}

// ParseRunStatus converts a stored value into a RunStatus.
func ParseRunStatus(value string) (RunStatus, error) {
	normalized := RunStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range runStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown run status %q", value)
}

// Finished reports whether the run is no longer occupying resources.
func (s RunStatus) Finished() bool {
	return s != RunRunning
}

// Run records one execution of a task within an iteration.
type Run struct {
	ID             int64
	TaskID         int64
	IterationID    int64
	DaemonStatusID int64
	Region         string
	Status         RunStatus
	ExitStatus     *int
	Message        string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// Demand is a task's need for units of a named resource.
type Demand struct {
	Resource string
	Units    int
}

// Resource is a region's capacity for a named resource.
type Resource struct {
	Region   string
	Name     string
	Capacity int
	InUse    int
}

// TaskSpec describes a task to add to a job.
type TaskSpec struct {
	Job       string
	Name      string
	Library   string
	Region    string
	LogFile   string
	Args      string
	Demands   []Demand
	DependsOn []string
}
