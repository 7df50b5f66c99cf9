// Package main hosts tmsd, the task execution daemon.
//
// tmsd admits eligible tasks for one region from the registry, runs them on
// the process or thread backend and follows lifecycle requests written by
// operators or by its own signal handlers. The process exits 0 after a
// graceful end and 137 otherwise.
package main
