// Package execution launches admitted tasks and tracks them until they end.
//
// A Runnable wraps one (task, iteration) pair. Two backends produce them:
//
//   - ProcessBackend runs each task in a separate tmsd-run-task process in
//     its own process group and observes it through non-blocking wait4
//     polls. Its exit status is classified with the runner exit taxonomy
//     (see exitstatus.go); 126 and 127 are deployment failures and are
//     returned as fatal errors.
//   - ThreadBackend runs the task's RunFunc on a goroutine inside the
//     daemon. Interrupting such a task only records the failure and hints
//     cancellation through its context, so Preemptive reports false and the
//     daemon must terminate itself after an ungraceful end.
//
// Both backends record the run in the registry before launching so the
// task's resource demands are held from the moment it is admitted.
package execution
