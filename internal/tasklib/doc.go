// Package tasklib holds the task libraries that ship with norc: command,
// sleep and noop. Daemons and the task runner register them through
// Register; site-specific libraries are added to the same Handlers.
package tasklib
