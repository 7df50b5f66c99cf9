// Package logtail reads the tail of task and daemon log files and follows
// them as runners append, with bounded memory.
package logtail
