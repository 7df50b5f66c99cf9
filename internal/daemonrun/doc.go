// Package daemonrun wires a tmsd process together: logging, the single
// instance lock, the registry, the execution backend, output routing,
// signals, metrics and tracing around one engine run.
package daemonrun
