package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"norc/internal/execution"
	"norc/internal/lifecycle"
	"norc/internal/logging"
	"norc/internal/metrics"
	"norc/internal/registry"
)

// runBatch admits up to PageSize eligible candidates. Task types found
// short of resources are not checked again within the same batch.
func (e *Engine) runBatch(ctx context.Context, ds lifecycle.DaemonStatus) error {
	ctx, span := e.tracer.Start(ctx, "engine.batch")
	defer span.End()
	started := time.Now()
	defer func() {
		e.recorder.ObserveBatchDuration(e.backend.Name(), time.Since(started))
	}()

	candidates, err := e.reg.EligibleTasks(ctx, e.opts.Region, registry.EligibleOptions{
		PreferCompletingExisting: true,
		Limit:                    e.opts.PageSize,
	})
	if err != nil {
		span.RecordError(err)
		e.logger.Error("list eligible tasks failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "eligible_query_failed"),
			logging.String(logging.FieldErrorHint, "check registry database access"),
		)
		return nil
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	unavailable := make(map[string]struct{})
	admitted := 0
	for _, c := range candidates {
		if e.breakAdmission.Load() || ctx.Err() != nil {
			e.logger.Debug("admission batch interrupted")
			break
		}
		taskType := c.Task.Type()
		if _, skip := unavailable[taskType]; skip {
			e.recorder.IncAdmission(e.backend.Name(), taskType, metrics.AdmissionCachedSkip)
			continue
		}
		ok, err := e.reg.ResourcesAvailable(ctx, c.Task, e.opts.Region)
		if err != nil {
			e.logger.Warn("resource check failed; treating task type as unavailable",
				logging.String(logging.FieldTask, c.Task.Label()),
				logging.Error(err),
				logging.String(logging.FieldEventType, "resource_check_failed"),
			)
		}
		if err != nil || !ok {
			unavailable[taskType] = struct{}{}
			e.recorder.IncAdmission(e.backend.Name(), taskType, metrics.AdmissionNoResources)
			e.logger.Debug("resources unavailable",
				logging.String(logging.FieldTask, c.Task.Label()),
				logging.String("task_type", taskType),
			)
			continue
		}
		if err := e.start(ctx, ds, c); err != nil {
			if execution.Fatal(err) {
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			continue
		}
		admitted++
	}
	span.SetAttributes(attribute.Int("admitted", admitted))
	return nil
}

func (e *Engine) start(ctx context.Context, ds lifecycle.DaemonStatus, c registry.Candidate) error {
	ctx, span := e.tracer.Start(ctx, "engine.start_task", traceTaskAttrs(c)...)
	defer span.End()

	taskType := c.Task.Type()
	r, err := e.backend.Start(ctx, c.Task, c.Iteration, ds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		e.recorder.IncAdmission(e.backend.Name(), taskType, metrics.AdmissionStartFailed)
		attrs := append(logging.TaskAttrs(c.Task.Label(), c.Task.ID, c.Iteration.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_start_failed"),
		)
		e.logger.Error("failed to start task", logging.Args(attrs...)...)
		if execution.Fatal(err) {
			return fmt.Errorf("start %s: %w", c.Task.Label(), err)
		}
		return err
	}
	e.recorder.IncAdmission(e.backend.Name(), taskType, metrics.AdmissionStarted)
	attrs := append(logging.TaskAttrs(r.Task().Label(), c.Task.ID, c.Iteration.ID), logging.String("library", c.Task.Library))
	e.logger.Info("task started", logging.Args(attrs...)...)
	return nil
}

func traceTaskAttrs(c registry.Candidate) []trace.SpanStartOption {
	return []trace.SpanStartOption{trace.WithAttributes(
		attribute.String("norc.task", c.Task.Label()),
		attribute.Int64("norc.task_id", c.Task.ID),
		attribute.Int64("norc.iteration_id", c.Iteration.ID),
		attribute.String("norc.library", c.Task.Library),
	)}
}
