/*-------------------------------------------------------------------------
 *
 * worker.go
 *    Workflow run worker for NeuronFlow
 *
 * Drives one workflow run: acquire the next task, invoke its remote
 * service, record the outcome, repeat until the run drains or a task
 * fails, then settle the run.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package executor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

/* WorkflowRunWorker executes the tasks of one workflow run */
type WorkflowRunWorker struct {
	workflowRunID uuid.UUID
	queries       *db.Queries
	driver        *Driver
}

/* NewWorkflowRunWorker creates a worker; nothing happens until Run */
func NewWorkflowRunWorker(workflowRunID uuid.UUID, queries *db.Queries, driver *Driver) *WorkflowRunWorker {
	return &WorkflowRunWorker{
		workflowRunID: workflowRunID,
		queries:       queries,
		driver:        driver,
	}
}

/* Run is the worker entry point. Acquires tasks until none remain or a
 * task fails, then settles the run from the task status distribution.
 * A canceled context means the run was taken away (canceled or moved);
 * the worker exits without settling. */
func (w *WorkflowRunWorker) Run(ctx context.Context) error {
	ctx = metrics.WithWorkflowRunIDLogContext(ctx, w.workflowRunID)
	for {
		record, err := w.queries.NextTask(ctx, w.workflowRunID)
		if err != nil {
			return err
		}
		if record == nil {
			metrics.InfoWithContext(ctx, "No available task to run, settling workflow run", nil)
			return w.queries.CompleteWorkflowRun(ctx, w.workflowRunID)
		}

		metrics.InfoWithContext(ctx, "Running task", map[string]interface{}{
			"task_order": record.TaskOrder,
			"task_id":    record.TaskID,
			"url":        record.URL,
		})

		isPaused, message, err := w.driver.Run(ctx, record)
		if err != nil {
			if ctx.Err() != nil {
				/* Run canceled out from under us; the canceler already
				 * settled the task rows */
				return ctx.Err()
			}
			return w.failTask(ctx, record, err)
		}

		if err := w.queries.CompleteTaskRun(ctx, record.WorkflowRunID, record.TaskOrder, isPaused, message); err != nil {
			if errors.Is(err, db.ErrInvalidTransition) {
				/* The task left Running while we ran it; a cancel or move
				 * won the race. Stop without settling. */
				metrics.WarnWithContext(ctx, "Task no longer Running at completion, stopping worker", map[string]interface{}{
					"task_order": record.TaskOrder,
				})
				return nil
			}
			return err
		}
		if isPaused {
			return w.queries.CompleteWorkflowRun(ctx, w.workflowRunID)
		}
	}
}

/* failTask records a task failure and settles the run as failed */
func (w *WorkflowRunWorker) failTask(ctx context.Context, record *db.TaskQueueRecord, cause error) error {
	metrics.ErrorWithContext(ctx, "Task failed", cause, map[string]interface{}{
		"task_order": record.TaskOrder,
		"task_id":    record.TaskID,
	})
	if err := w.queries.FailTaskRun(ctx, record.WorkflowRunID, record.TaskOrder, cause.Error()); err != nil {
		if errors.Is(err, db.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return w.queries.CompleteWorkflowRun(ctx, w.workflowRunID)
}
