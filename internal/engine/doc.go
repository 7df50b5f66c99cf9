// Package engine implements the tmsd poll loop.
//
// An Engine owns one DaemonStatus row. Every iteration it re-reads that row,
// reacts to stop, kill and pause requests, and while RUNNING admits one batch
// of eligible tasks whose resources are available. Task execution is
// delegated to a Backend (a runner process per task or a goroutine per task).
package engine
