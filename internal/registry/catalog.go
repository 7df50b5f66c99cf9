package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// EnsureRegion registers a resource region if it does not exist yet.
func (s *Store) EnsureRegion(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("region name is required")
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO regions (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, nowString(),
	); err != nil {
		return fmt.Errorf("ensure region %q: %w", name, err)
	}
	return nil
}

// Region resolves a region by name. Unknown names yield ErrRegionNotFound.
func (s *Store) Region(ctx context.Context, name string) (string, error) {
	ctx = ensureContext(ctx)
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM regions WHERE name = ?`, strings.TrimSpace(name)).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrRegionNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read region %q: %w", name, err)
	}
	return found, nil
}

// SetResourceCapacity creates or updates a region's capacity for a resource.
func (s *Store) SetResourceCapacity(ctx context.Context, region, resource string, capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("capacity for %s must be non-negative", resource)
	}
	if _, err := s.Region(ctx, region); err != nil {
		return err
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO resources (region, name, capacity) VALUES (?, ?, ?)
         ON CONFLICT(region, name) DO UPDATE SET capacity = excluded.capacity`,
		region, resource, capacity,
	); err != nil {
		return fmt.Errorf("set capacity %s/%s: %w", region, resource, err)
	}
	return nil
}

// Resources lists a region's resources with the units held by running tasks.
func (s *Store) Resources(ctx context.Context, region string) ([]Resource, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.region, r.name, r.capacity,
                COALESCE((SELECT SUM(d.units)
                          FROM task_runs tr
                          JOIN task_demands d ON d.task_id = tr.task_id AND d.resource = r.name
                          WHERE tr.region = r.region AND tr.status = ?), 0)
         FROM resources r
         WHERE r.region = ?
         ORDER BY r.name`,
		RunRunning, region,
	)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.Region, &res.Name, &res.Capacity, &res.InUse); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// EnsureJob returns the id of the named job, creating it when missing.
func (s *Store) EnsureJob(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("job name is required")
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO jobs (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, nowString(),
	); err != nil {
		return 0, fmt.Errorf("ensure job %q: %w", name, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT id FROM jobs WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("read job %q: %w", name, err)
	}
	return id, nil
}

// CreateTask adds a task, its resource demands and its dependencies.
// Dependencies name earlier tasks in the same job.
func (s *Store) CreateTask(ctx context.Context, spec TaskSpec) (Task, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(spec.Name) == "" || strings.TrimSpace(spec.Library) == "" {
		return Task{}, errors.New("task name and library are required")
	}
	if strings.TrimSpace(spec.LogFile) == "" {
		return Task{}, errors.New("task log file is required")
	}
	if spec.Region != "" {
		if _, err := s.Region(ctx, spec.Region); err != nil {
			return Task{}, err
		}
	}
	jobID, err := s.EnsureJob(ctx, spec.Job)
	if err != nil {
		return Task{}, err
	}

	var taskID int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (job_id, name, library, region, log_file, args, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			jobID, spec.Name, spec.Library, nullableString(spec.Region), spec.LogFile, nullableString(spec.Args), nowString(),
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if taskID, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, d := range spec.Demands {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_demands (task_id, resource, units) VALUES (?, ?, ?)`,
				taskID, d.Resource, d.Units,
			); err != nil {
				return fmt.Errorf("insert demand %s: %w", d.Resource, err)
			}
		}
		for _, dep := range spec.DependsOn {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO task_dependencies (task_id, depends_on)
                 SELECT ?, id FROM tasks WHERE job_id = ? AND name = ?`,
				taskID, jobID, dep,
			)
			if err != nil {
				return fmt.Errorf("insert dependency %s: %w", dep, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("dependency %q: %w", dep, ErrNotFound)
			}
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return s.Task(ctx, taskID)
}

// Task loads a task by id.
func (s *Store) Task(ctx context.Context, id int64) (Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks t JOIN jobs j ON j.id = t.job_id WHERE t.id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("read task %d: %w", id, err)
	}
	return task, nil
}

// Demands returns the resource demands of a task.
func (s *Store) Demands(ctx context.Context, taskID int64) ([]Demand, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource, units FROM task_demands WHERE task_id = ? ORDER BY resource`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list demands: %w", err)
	}
	defer rows.Close()

	var out []Demand
	for rows.Next() {
		var d Demand
		if err := rows.Scan(&d.Resource, &d.Units); err != nil {
			return nil, fmt.Errorf("scan demand: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListTasks returns every task, optionally limited to one job.
func (s *Store) ListTasks(ctx context.Context, job string) ([]Task, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + taskColumns + ` FROM tasks t JOIN jobs j ON j.id = t.job_id`
	var args []any
	if job != "" {
		query += ` WHERE j.name = ?`
		args = append(args, job)
	}
	query += ` ORDER BY j.name, t.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// StartIteration opens a new iteration over every task of the named job.
func (s *Store) StartIteration(ctx context.Context, job string) (Iteration, error) {
	ctx = ensureContext(ctx)
	var jobID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE name = ?`, job).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return Iteration{}, fmt.Errorf("job %q: %w", job, ErrNotFound)
	}
	if err != nil {
		return Iteration{}, fmt.Errorf("read job %q: %w", job, err)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO iterations (job_id, status, created_at) VALUES (?, ?, ?)`,
		jobID, IterationRunning, nowString(),
	)
	if err != nil {
		return Iteration{}, fmt.Errorf("insert iteration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Iteration{}, err
	}
	return s.Iteration(ctx, id)
}

// Iteration loads an iteration by id.
func (s *Store) Iteration(ctx context.Context, id int64) (Iteration, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+iterationColumns+` FROM iterations i WHERE i.id = ?`, id)
	it, err := scanIteration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Iteration{}, fmt.Errorf("iteration %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Iteration{}, fmt.Errorf("read iteration %d: %w", id, err)
	}
	return it, nil
}
