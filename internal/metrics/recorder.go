package metrics

import "time"

// AdmissionResult labels the outcome of offering one candidate to the daemon.
type AdmissionResult string

const (
	AdmissionStarted     AdmissionResult = "started"
	AdmissionStartFailed AdmissionResult = "start_failed"
	AdmissionNoResources AdmissionResult = "no_resources"
	AdmissionCachedSkip  AdmissionResult = "cached_skip"
)

// Recorder defines the hooks the engine calls. Implementations must be safe
// for concurrent use.
type Recorder interface {
	IncAdmission(backend, taskType string, result AdmissionResult)
	SetRunningTasks(backend string, n int)
	ObserveBatchDuration(backend string, d time.Duration)
	IncTransition(from, to string)
	IncInterrupt(backend string, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncAdmission(string, string, AdmissionResult) {}
func (NoopRecorder) SetRunningTasks(string, int)                  {}
func (NoopRecorder) ObserveBatchDuration(string, time.Duration)   {}
func (NoopRecorder) IncTransition(string, string)                 {}
func (NoopRecorder) IncInterrupt(string, bool)                    {}
