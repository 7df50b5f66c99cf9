// Package registry persists the task catalog, iterations, task runs, and
// daemon status rows in SQLite.
//
// It is the shared state through which the execution daemon, the task runner
// processes it launches, and operators coordinate:
//
//   - the engine reads eligible (task, iteration) pairs and their resource
//     availability, and reads and writes its daemon status row;
//   - backends record task runs, which doubles as resource reservation;
//   - operators add regions, resources, jobs, tasks, and iterations, and write
//     stop/kill/pause requests into daemon status rows.
//
// Daemon status writes are compare-and-set: every write names the statuses it
// is allowed to replace, so concurrent writers never overwrite a state they
// did not observe. Schema changes bump the version in schema.go; users clear
// the database to adopt the new schema.
package registry
