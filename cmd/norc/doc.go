// Package main hosts the norc operator CLI.
//
// norc edits the task registry that tmsd daemons poll: regions and their
// resource capacities, jobs and tasks, iterations. It also lists daemon runs
// and writes stop, kill, pause and resume requests that running daemons pick
// up on their next poll.
package main
