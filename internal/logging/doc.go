// Package logging builds the slog loggers used by the daemon, the runner and
// the CLI.
//
// Two formats exist: a one-line console format that lifts the component and
// task label into a prefix, and JSON. NewHandlerFactory hands out the chosen
// format bound to any writer, which is how the output router ends up with
// one handler per task log file. Context helpers stamp daemon status, task,
// iteration and correlation ids onto records. TeeLogger and MinLevel let the
// daemon copy its warnings to the terminal after output has moved to the
// daemon log.
package logging
