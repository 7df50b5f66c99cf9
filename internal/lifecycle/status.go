package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// Status is the persisted lifecycle state of one daemon run.
type Status string

const (
	StatusRunning         Status = "RUNNING"
	StatusPauseRequested  Status = "PAUSEREQUESTED"
	StatusPaused          Status = "PAUSED"
	StatusStopRequested   Status = "STOPREQUESTED"
	StatusStopInProgress  Status = "STOPINPROGRESS"
	StatusEndedGracefully Status = "ENDEDGRACEFULLY"
	StatusKillRequested   Status = "KILLREQUESTED"
	StatusKillInProgress  Status = "KILLINPROGRESS"
	StatusKilled          Status = "KILLED"
	StatusError           Status = "ERROR"
)

var allStatuses = []Status{
	StatusRunning,
	StatusPauseRequested,
	StatusPaused,
	StatusStopRequested,
	StatusStopInProgress,
	StatusEndedGracefully,
	StatusKillRequested,
	StatusKillInProgress,
	StatusKilled,
	StatusError,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a stored or user-supplied value into a Status.
func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown daemon status %q", value)
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusEndedGracefully, StatusKilled, StatusError:
		return true
	default:
		return false
	}
}

// Admits reports whether tasks may be started while in this status.
func (s Status) Admits() bool {
	return s == StatusRunning
}

// DaemonStatus is a snapshot of one daemon run's registry row.
type DaemonStatus struct {
	ID        int64
	Region    string
	Status    Status
	Host      string
	PID       int
	RunID     string
	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

func (d DaemonStatus) IsRunning() bool        { return d.Status == StatusRunning }
func (d DaemonStatus) IsPauseRequested() bool { return d.Status == StatusPauseRequested }
func (d DaemonStatus) IsPaused() bool         { return d.Status == StatusPaused }
func (d DaemonStatus) IsStopRequested() bool  { return d.Status == StatusStopRequested }
func (d DaemonStatus) IsBeingStopped() bool   { return d.Status == StatusStopInProgress }
func (d DaemonStatus) IsKillRequested() bool  { return d.Status == StatusKillRequested }
func (d DaemonStatus) IsBeingKilled() bool    { return d.Status == StatusKillInProgress }

// IsDone reports whether the run reached a terminal status.
func (d DaemonStatus) IsDone() bool { return d.Status.Terminal() }
