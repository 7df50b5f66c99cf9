package registry

import (
	"database/sql"
	"errors"
	"time"

	"norc/internal/lifecycle"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const taskColumns = "t.id, t.job_id, j.name, t.name, t.library, t.region, t.log_file, t.args, t.created_at"

func scanTask(scanner rowScanner, extra ...any) (Task, error) {
	var (
		task       Task
		region     sql.NullString
		args       sql.NullString
		createdRaw sql.NullString
	)
	dest := []any{&task.ID, &task.JobID, &task.Job, &task.Name, &task.Library, &region, &task.LogFile, &args, &createdRaw}
	dest = append(dest, extra...)
	if err := scanner.Scan(dest...); err != nil {
		return Task{}, err
	}
	task.Region = region.String
	task.Args = args.String
	task.CreatedAt = parseTimeOrZero(createdRaw.String)
	return task, nil
}

const iterationColumns = "i.id, i.job_id, i.status, i.created_at, i.ended_at"

func scanIteration(scanner rowScanner) (Iteration, error) {
	var (
		it         Iteration
		status     string
		createdRaw sql.NullString
		endedRaw   sql.NullString
	)
	if err := scanner.Scan(&it.ID, &it.JobID, &status, &createdRaw, &endedRaw); err != nil {
		return Iteration{}, err
	}
	it.Status = IterationStatus(status)
	it.CreatedAt = parseTimeOrZero(createdRaw.String)
	it.EndedAt = parseTimePtr(endedRaw)
	return it, nil
}

const daemonStatusColumns = "id, region, status, host, pid, run_id, created_at, updated_at, ended_at"

func scanDaemonStatus(scanner rowScanner) (lifecycle.DaemonStatus, error) {
	var (
		ds         lifecycle.DaemonStatus
		status     string
		host       sql.NullString
		pid        sql.NullInt64
		createdRaw sql.NullString
		updatedRaw sql.NullString
		endedRaw   sql.NullString
	)
	if err := scanner.Scan(&ds.ID, &ds.Region, &status, &host, &pid, &ds.RunID, &createdRaw, &updatedRaw, &endedRaw); err != nil {
		return lifecycle.DaemonStatus{}, err
	}
	parsed, err := lifecycle.ParseStatus(status)
	if err != nil {
		return lifecycle.DaemonStatus{}, err
	}
	ds.Status = parsed
	ds.Host = host.String
	ds.PID = int(pid.Int64)
	ds.CreatedAt = parseTimeOrZero(createdRaw.String)
	ds.UpdatedAt = parseTimeOrZero(updatedRaw.String)
	ds.EndedAt = parseTimePtr(endedRaw)
	return ds, nil
}

const runColumns = "id, task_id, iteration_id, daemon_status_id, region, status, exit_status, message, started_at, ended_at"

func scanRun(scanner rowScanner) (Run, error) {
	var (
		run        Run
		daemonID   sql.NullInt64
		status     string
		exitStatus sql.NullInt64
		message    sql.NullString
		startedRaw sql.NullString
		endedRaw   sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.TaskID, &run.IterationID, &daemonID, &run.Region, &status, &exitStatus, &message, &startedRaw, &endedRaw); err != nil {
		return Run{}, err
	}
	run.DaemonStatusID = daemonID.Int64
	run.Status = RunStatus(status)
	if exitStatus.Valid {
		code := int(exitStatus.Int64)
		run.ExitStatus = &code
	}
	run.Message = message.String
	run.StartedAt = parseTimeOrZero(startedRaw.String)
	run.EndedAt = parseTimePtr(endedRaw)
	return run, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseTimeOrZero(value string) time.Time {
	t, err := parseTimeString(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
