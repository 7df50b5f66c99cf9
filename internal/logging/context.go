package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. task_started).
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the consequence of a warning.
	FieldImpact = "impact"
	// FieldDaemonStatusID identifies the daemon run a line belongs to.
	FieldDaemonStatusID = "daemon_status_id"
	// FieldRegion is the resource region the daemon serves.
	FieldRegion = "region"
	// FieldBackend names the execution backend.
	FieldBackend = "backend"
	// FieldTask is the human label of a task ("job:name").
	FieldTask = "task"
	// FieldTaskID is the registry identifier of a task.
	FieldTaskID = "task_id"
	// FieldIterationID is the registry identifier of an iteration.
	FieldIterationID = "iteration_id"
	// FieldStatus carries a lifecycle or run status value.
	FieldStatus = "status"
	// FieldCorrelationID ties daemon, runner and task log lines for one run together.
	FieldCorrelationID = "correlation_id"
)

type contextKey int

const (
	daemonStatusKey contextKey = iota
	taskKey
	correlationKey
)

type taskRef struct {
	label       string
	taskID      int64
	iterationID int64
}

// WithDaemonStatusID records the daemon status id on ctx.
func WithDaemonStatusID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, daemonStatusKey, id)
}

// WithTask records the task being worked on.
func WithTask(ctx context.Context, label string, taskID, iterationID int64) context.Context {
	return context.WithValue(ctx, taskKey, taskRef{label: label, taskID: taskID, iterationID: iterationID})
}

// WithCorrelationID records a correlation id on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFromContext returns the correlation id stored on ctx.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := ctx.Value(daemonStatusKey).(int64); ok {
		fields = append(fields, slog.Int64(FieldDaemonStatusID, id))
	}
	if ref, ok := ctx.Value(taskKey).(taskRef); ok {
		fields = append(fields,
			slog.String(FieldTask, ref.label),
			slog.Int64(FieldTaskID, ref.taskID),
			slog.Int64(FieldIterationID, ref.iterationID),
		)
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
