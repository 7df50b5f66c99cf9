package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BeginRun records that the daemon started task in iteration. The running
// row holds the task's resource demands until the run finishes. A second run
// for the same pair fails with ErrRunExists.
func (s *Store) BeginRun(ctx context.Context, task Task, iteration Iteration, daemonStatusID int64, region string) (Run, error) {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`INSERT INTO task_runs (task_id, iteration_id, daemon_status_id, region, status, started_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, iteration.ID, daemonStatusID, region, RunRunning, nowString(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Run{}, fmt.Errorf("%s in iteration %d: %w", task.Label(), iteration.ID, ErrRunExists)
		}
		return Run{}, fmt.Errorf("insert task run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Run{}, err
	}
	return s.runByID(ctx, id)
}

// FinishRun closes a running run with the given status. Runs that already
// finished are left alone and reported with false. When the last task of the
// iteration finishes, the iteration is marked done.
func (s *Store) FinishRun(ctx context.Context, taskID, iterationID int64, status RunStatus, exitStatus *int, message string) (bool, error) {
	if !status.Finished() {
		return false, fmt.Errorf("finish run: %s is not a final status", status)
	}
	ctx = ensureContext(ctx)
	updated := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE task_runs SET status = ?, exit_status = ?, message = ?, ended_at = ?
             WHERE task_id = ? AND iteration_id = ? AND status = ?`,
			status, nullableInt(exitStatus), nullableString(message), nowString(),
			taskID, iterationID, RunRunning,
		)
		if err != nil {
			return fmt.Errorf("update task run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		if !updated {
			return nil
		}
		if status != RunSuccess {
			if err := skipDependents(ctx, tx, taskID, iterationID); err != nil {
				return err
			}
		}
		return closeIterationIfComplete(ctx, tx, iterationID)
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// MarkIterationEndedInError records that the daemon gave up on task's run in
// iteration. The run is finished as an error even if its run logic is still
// unwinding; a later FinishRun from that logic is ignored.
func (s *Store) MarkIterationEndedInError(ctx context.Context, taskID, iterationID int64, message string) error {
	if _, err := s.FinishRun(ctx, taskID, iterationID, RunError, nil, message); err != nil {
		return fmt.Errorf("mark run ended in error: %w", err)
	}
	return nil
}

// skipDependents records skipped runs for every task that transitively
// depends on taskID, since none of them can become eligible in this iteration.
func skipDependents(ctx context.Context, tx *sql.Tx, taskID, iterationID int64) error {
	now := nowString()
	if _, err := tx.ExecContext(ctx,
		`WITH RECURSIVE blocked(id) AS (
             SELECT task_id FROM task_dependencies WHERE depends_on = ?
             UNION
             SELECT d.task_id FROM task_dependencies d JOIN blocked b ON d.depends_on = b.id
         )
         INSERT INTO task_runs (task_id, iteration_id, region, status, message, started_at, ended_at)
         SELECT b.id, ?, (SELECT region FROM task_runs WHERE task_id = ? AND iteration_id = ?), ?, ?, ?, ?
         FROM blocked b
         WHERE NOT EXISTS (SELECT 1 FROM task_runs r WHERE r.task_id = b.id AND r.iteration_id = ?)`,
		taskID, iterationID, taskID, iterationID, RunSkipped, "dependency did not succeed", now, now, iterationID,
	); err != nil {
		return fmt.Errorf("skip dependents of task %d: %w", taskID, err)
	}
	return nil
}

func closeIterationIfComplete(ctx context.Context, tx *sql.Tx, iterationID int64) error {
	var remaining int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1)
         FROM iterations i
         JOIN tasks t ON t.job_id = i.job_id
         WHERE i.id = ?
           AND NOT EXISTS (
               SELECT 1 FROM task_runs r
               WHERE r.task_id = t.id AND r.iteration_id = i.id AND r.status != ?)`,
		iterationID, RunRunning,
	).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("count unfinished tasks: %w", err)
	}
	if remaining > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE iterations SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
		IterationDone, nowString(), iterationID, IterationRunning,
	); err != nil {
		return fmt.Errorf("close iteration: %w", err)
	}
	return nil
}

// Run loads the run of task in iteration.
func (s *Store) Run(ctx context.Context, taskID, iterationID int64) (Run, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM task_runs WHERE task_id = ? AND iteration_id = ?`, taskID, iterationID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run of task %d in iteration %d: %w", taskID, iterationID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	return run, nil
}

func (s *Store) runByID(ctx context.Context, id int64) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM task_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %d: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the runs of an iteration in start order.
func (s *Store) ListRuns(ctx context.Context, iterationID int64) ([]Run, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM task_runs WHERE iteration_id = ? ORDER BY id`, iterationID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
