// Package lifecycle defines the daemon status vocabulary shared by the engine,
// the registry, and the operator CLI.
//
// A daemon run moves through a small state machine: RUNNING, optional pause,
// then either a graceful stop or a kill, ending in ENDEDGRACEFULLY, KILLED, or
// ERROR. The authoritative status lives in the registry; DaemonStatus here is
// a snapshot of that row plus the predicates the engine dispatches on.
// CanTransition and Predecessors encode which writes are legal so every writer
// (engine, signal handler, operator) can apply them as a compare-and-set.
package lifecycle
