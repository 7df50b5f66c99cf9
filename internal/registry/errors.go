package registry

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRegionNotFound indicates the named resource region is not registered.
	ErrRegionNotFound = errors.New("region not found")
	// ErrRunExists indicates the task already has a run in the iteration.
	ErrRunExists = errors.New("task already run in iteration")
	// ErrSchemaMismatch indicates the database was written by a newer build.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
