// Package logroute multiplexes daemon and task output into per-task log files.
//
// One Router is shared by the daemon and every in-process task unit. Unit
// identity travels on the context (WithUnit) or is bound into an explicit
// writer (TaskWriter); anything without a unit lands in the daemon log, or on
// the original stdout when no daemon log is configured. Handles are opened
// lazily in append mode and tolerate being closed while still referenced: the
// next write reopens the file.
//
// Write failures never propagate. A diagnostic goes to the original stderr
// and the write reports success so logging can never take down a task or the
// engine loop.
package logroute
