// Package runner implements tmsd-run-task, the executable the process
// backend launches once per admitted task.
//
// The runner checks that the daemon recorded a running run for the task,
// runs the task library's RunFunc and reports the outcome twice: in the
// registry and as its exit status, which the daemon reads back.
package runner
