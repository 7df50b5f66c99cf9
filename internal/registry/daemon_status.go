package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"norc/internal/lifecycle"
)

// CreateDaemonStatus records a new daemon run for region in status RUNNING.
func (s *Store) CreateDaemonStatus(ctx context.Context, region string) (lifecycle.DaemonStatus, error) {
	if _, err := s.Region(ctx, region); err != nil {
		return lifecycle.DaemonStatus{}, err
	}
	host, _ := os.Hostname()
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO daemon_status (region, status, host, pid, run_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		region,
		lifecycle.StatusRunning,
		nullableString(host),
		os.Getpid(),
		uuid.NewString(),
		now,
		now,
	)
	if err != nil {
		return lifecycle.DaemonStatus{}, fmt.Errorf("insert daemon status: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return lifecycle.DaemonStatus{}, fmt.Errorf("daemon status id: %w", err)
	}
	return s.DaemonStatus(ctx, id)
}

// DaemonStatus re-reads the daemon status row with the given id.
func (s *Store) DaemonStatus(ctx context.Context, id int64) (lifecycle.DaemonStatus, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+daemonStatusColumns+` FROM daemon_status WHERE id = ?`, id)
	ds, err := scanDaemonStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.DaemonStatus{}, fmt.Errorf("daemon status %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return lifecycle.DaemonStatus{}, fmt.Errorf("read daemon status %d: %w", id, err)
	}
	return ds, nil
}

// TransitionDaemonStatus sets the status to `to` only if the current status is
// one of from. With no from values, every legal predecessor of to is accepted.
// The returned bool is false when the row holds some other status.
func (s *Store) TransitionDaemonStatus(ctx context.Context, id int64, to lifecycle.Status, from ...lifecycle.Status) (bool, error) {
	if len(from) == 0 {
		from = lifecycle.Predecessors(to)
	}
	allowed := make([]lifecycle.Status, 0, len(from))
	for _, f := range from {
		if lifecycle.CanTransition(f, to) {
			allowed = append(allowed, f)
		}
	}
	if len(allowed) == 0 {
		return false, fmt.Errorf("no legal transition to %s from %v", to, from)
	}

	args := []any{to, nowString(), to.Terminal(), nowString(), id}
	for _, f := range allowed {
		args = append(args, f)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE daemon_status
         SET status = ?, updated_at = ?,
             ended_at = CASE WHEN ? AND ended_at IS NULL THEN ? ELSE ended_at END
         WHERE id = ? AND status IN (`+makePlaceholders(len(allowed))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update daemon status %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update daemon status %d: %w", id, err)
	}
	if affected > 0 {
		return true, nil
	}
	if _, err := s.DaemonStatus(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListDaemonStatuses returns daemon runs newest first, optionally filtered by status.
func (s *Store) ListDaemonStatuses(ctx context.Context, statuses ...lifecycle.Status) ([]lifecycle.DaemonStatus, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + daemonStatusColumns + ` FROM daemon_status`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list daemon statuses: %w", err)
	}
	defer rows.Close()

	var out []lifecycle.DaemonStatus
	for rows.Next() {
		ds, err := scanDaemonStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daemon status: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}
