package registry

import (
	"context"
	"database/sql"
	"fmt"
)

// EligibleTasks returns (task, iteration) pairs the region may run now: the
// iteration is open, the task belongs to its job, has no run in it yet, is
// not pinned to another region, and every dependency succeeded in the same
// iteration. Ordering is oldest iteration first, then task id; with
// PreferCompletingExisting, iterations that already have finished runs come
// before untouched ones.
func (s *Store) EligibleTasks(ctx context.Context, region string, opts EligibleOptions) ([]Candidate, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + taskColumns + `, ` + iterationColumns + `
        FROM iterations i
        JOIN tasks t ON t.job_id = i.job_id
        JOIN jobs j ON j.id = t.job_id
        WHERE i.status = ?
          AND (t.region IS NULL OR t.region = ?)
          AND NOT EXISTS (
              SELECT 1 FROM task_runs r WHERE r.task_id = t.id AND r.iteration_id = i.id)
          AND NOT EXISTS (
              SELECT 1 FROM task_dependencies dep
              WHERE dep.task_id = t.id
                AND NOT EXISTS (
                    SELECT 1 FROM task_runs pr
                    WHERE pr.task_id = dep.depends_on AND pr.iteration_id = i.id AND pr.status = ?))
        ORDER BY
          CASE WHEN ? AND EXISTS (
              SELECT 1 FROM task_runs fr WHERE fr.iteration_id = i.id AND fr.status != ?)
          THEN 0 ELSE 1 END,
          i.id, t.id`
	args := []any{IterationRunning, region, RunSuccess, opts.PreferCompletingExisting, RunRunning}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible tasks: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			it         Iteration
			itStatus   string
			createdRaw sql.NullString
			endedRaw   sql.NullString
		)
		task, err := scanTask(rows, &it.ID, &it.JobID, &itStatus, &createdRaw, &endedRaw)
		if err != nil {
			return nil, fmt.Errorf("scan eligible task: %w", err)
		}
		it.Status = IterationStatus(itStatus)
		it.CreatedAt = parseTimeOrZero(createdRaw.String)
		it.EndedAt = parseTimePtr(endedRaw)
		out = append(out, Candidate{Task: task, Iteration: it})
	}
	return out, rows.Err()
}

// ResourcesAvailable reports whether every demand of task fits in what the
// region has left after units held by running tasks. A demand on a resource
// the region does not define is never satisfied. Tasks without demands are
// always available.
func (s *Store) ResourcesAvailable(ctx context.Context, task Task, region string) (bool, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.resource, d.units, r.capacity,
                COALESCE((SELECT SUM(d2.units)
                          FROM task_runs tr
                          JOIN task_demands d2 ON d2.task_id = tr.task_id AND d2.resource = d.resource
                          WHERE tr.region = ? AND tr.status = ?), 0)
         FROM task_demands d
         LEFT JOIN resources r ON r.region = ? AND r.name = d.resource
         WHERE d.task_id = ?`,
		region, RunRunning, region, task.ID,
	)
	if err != nil {
		return false, fmt.Errorf("query resource demands: %w", err)
	}
	defer rows.Close()

	available := true
	for rows.Next() {
		var (
			resource string
			units    int
			capacity sql.NullInt64
			reserved int
		)
		if err := rows.Scan(&resource, &units, &capacity, &reserved); err != nil {
			return false, fmt.Errorf("scan resource demand: %w", err)
		}
		if !capacity.Valid || int(capacity.Int64)-reserved < units {
			available = false
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return available, nil
}
