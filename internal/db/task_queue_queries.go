/*-------------------------------------------------------------------------
 *
 * task_queue_queries.go
 *    Task dispatch queries for NeuronFlow
 *
 * The executor's main loop primitives: skip-locked leasing of the next
 * waiting task, the conditional single-statement status transitions for
 * task completion and failure, rule appends, progress reports, and the
 * archive-then-reset retry path.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

/* nextTaskQuery leases the first Waiting task of a run, but only while no
 * sibling is Running, Paused, Failed or Rule Broken. This predicate is the
 * serialization point within a run: one task at a time, and a halt on any
 * unresolved failure. */
const nextTaskQuery = `
	SELECT tq.workflow_run_id, tq.task_order, tq.task_id, tq.status, tq.parameters, vt.effective_url AS url
	FROM neurondb_flow.task_queue tq
	JOIN neurondb_flow.v_tasks vt ON vt.task_id = tq.task_id
	WHERE tq.workflow_run_id = $1
	  AND tq.status = 'Waiting'
	  AND NOT EXISTS (
		SELECT 1
		FROM neurondb_flow.task_queue sib
		WHERE sib.workflow_run_id = tq.workflow_run_id
		  AND sib.status IN ('Running', 'Paused', 'Failed', 'Rule Broken')
	  )
	ORDER BY tq.task_order
	LIMIT 1
	FOR UPDATE OF tq SKIP LOCKED`

/* readTaskQueueRecordQuery reads one queue record with its effective URL */
const readTaskQueueRecordQuery = `
	SELECT tq.workflow_run_id, tq.task_order, tq.task_id, tq.status, tq.parameters, tq.url
	FROM neurondb_flow.v_task_queue_record tq
	WHERE tq.workflow_run_id = $1 AND tq.task_order = $2`

/* ReadTaskQueueRecord reads one queue record */
func (q *Queries) ReadTaskQueueRecord(ctx context.Context, workflowRunID uuid.UUID, taskOrder int32) (*TaskQueueRecord, error) {
	var record TaskQueueRecord
	if err := q.DB.GetContext(ctx, &record, readTaskQueueRecordQuery, workflowRunID, taskOrder); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task queue record %s/%d: %w", workflowRunID, taskOrder, ErrNotFound)
		}
		return nil, fmt.Errorf("read task queue record %s/%d: %w", workflowRunID, taskOrder, err)
	}
	return &record, nil
}

/* NextTask leases the next task of a run and starts it, in one
 * transaction. Returns nil when no task is available, either because the
 * run is drained or because a sibling blocks dispatch. */
func (q *Queries) NextTask(ctx context.Context, workflowRunID uuid.UUID) (*TaskQueueRecord, error) {
	var record *TaskQueueRecord
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var row TaskQueueRecord
		err := tx.GetContext(ctx, &row, nextTaskQuery, workflowRunID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lease next task of run %s: %w", workflowRunID, err)
		}
		if err := q.startTaskRun(ctx, tx, row.WorkflowRunID, row.TaskOrder); err != nil {
			return err
		}
		row.Status = TaskStatusRunning
		record = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

/* startTaskRun moves a Waiting task to Running. A task already Running is
 * left untouched, making replays harmless. */
func (q *Queries) startTaskRun(ctx context.Context, tx *sqlx.Tx, workflowRunID uuid.UUID, taskOrder int32) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE neurondb_flow.task_queue
		SET status = 'Running', task_start = now()
		WHERE workflow_run_id = $1 AND task_order = $2 AND status = 'Waiting'`,
		workflowRunID, taskOrder); err != nil {
		return fmt.Errorf("start task %s/%d: %w", workflowRunID, taskOrder, err)
	}
	return nil
}

/* CompleteTaskRun records the outcome of a remote task run. The terminal
 * status cascades: a failed rule forces Rule Broken, then the paused flag,
 * then Complete. Run progress is recomputed in the same transaction. */
func (q *Queries) CompleteTaskRun(ctx context.Context, workflowRunID uuid.UUID, taskOrder int32, isPaused bool, output *string) error {
	if output != nil && strings.TrimSpace(*output) == "" {
		output = nil
	}
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET status = CASE
					WHEN rules IS NOT NULL AND EXISTS (
						SELECT 1 FROM jsonb_array_elements(rules) r
						WHERE (r->>'failed')::boolean
					) THEN 'Rule Broken'::neurondb_flow.task_status
					WHEN $3 THEN 'Paused'::neurondb_flow.task_status
					ELSE 'Complete'::neurondb_flow.task_status
				END,
			    output = $4,
			    task_end = now(),
			    progress = 100
			WHERE workflow_run_id = $1 AND task_order = $2 AND status = 'Running'`,
			workflowRunID, taskOrder, isPaused, output)
		if err != nil {
			return fmt.Errorf("complete task %s/%d: %w", workflowRunID, taskOrder, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s/%d is not Running: %w", workflowRunID, taskOrder, ErrInvalidTransition)
		}
		metrics.RecordTaskRunCompleted()
		return q.updateRunProgress(ctx, tx, workflowRunID)
	})
}

/* FailTaskRun marks a Running task Failed with a non-blank message */
func (q *Queries) FailTaskRun(ctx context.Context, workflowRunID uuid.UUID, taskOrder int32, message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrBlankMessage
	}
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET status = 'Failed', output = $3, task_end = now()
			WHERE workflow_run_id = $1 AND task_order = $2 AND status = 'Running'`,
			workflowRunID, taskOrder, message)
		if err != nil {
			return fmt.Errorf("fail task %s/%d: %w", workflowRunID, taskOrder, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s/%d is not Running: %w", workflowRunID, taskOrder, ErrInvalidTransition)
		}
		metrics.RecordTaskRunFailed()
		return nil
	})
}

/* AppendTaskRule appends a rule to a Running task's rules array */
func (q *Queries) AppendTaskRule(ctx context.Context, workflowRunID uuid.UUID, taskOrder int32, rule TaskRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		payload, err := TaskRules{rule}.Value()
		if err != nil {
			return fmt.Errorf("encode task rule: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET rules = coalesce(rules, '[]'::jsonb) || $3::jsonb
			WHERE workflow_run_id = $1 AND task_order = $2 AND status = 'Running'`,
			workflowRunID, taskOrder, payload)
		if err != nil {
			return fmt.Errorf("append rule to task %s/%d: %w", workflowRunID, taskOrder, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s/%d is not Running: %w", workflowRunID, taskOrder, ErrInvalidTransition)
		}
		return nil
	})
}

/* SetTaskProgress records progress against a Running task */
func (q *Queries) SetTaskProgress(ctx context.Context, workflowRunID uuid.UUID, taskOrder int32, progress int16) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress %d: %w", progress, ErrInvalidProgress)
	}
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET progress = $3
			WHERE workflow_run_id = $1 AND task_order = $2 AND status = 'Running'`,
			workflowRunID, taskOrder, progress)
		if err != nil {
			return fmt.Errorf("set progress of task %s/%d: %w", workflowRunID, taskOrder, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s/%d is not Running: %w", workflowRunID, taskOrder, ErrInvalidTransition)
		}
		return nil
	})
}

/* CompleteTask manually moves a Paused task to Complete and returns the
 * run to the scheduled pool */
func (q *Queries) CompleteTask(ctx context.Context, workflowRunID uuid.UUID, taskOrder int32) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET status = 'Complete', task_end = coalesce(task_end, now()), progress = 100
			WHERE workflow_run_id = $1 AND task_order = $2 AND status = 'Paused'`,
			workflowRunID, taskOrder)
		if err != nil {
			return fmt.Errorf("complete task %s/%d: %w", workflowRunID, taskOrder, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s/%d is not Paused: %w", workflowRunID, taskOrder, ErrInvalidTransition)
		}
		if err := q.updateRunProgress(ctx, tx, workflowRunID); err != nil {
			return err
		}
		_, err = q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:        RunStatusScheduled,
			allowedFrom:   []WorkflowRunStatus{RunStatusPaused, RunStatusScheduled, RunStatusWaiting},
			clearExecutor: true,
		})
		return err
	})
}

/* RetryTask archives a Failed or Rule Broken task, resets it to Waiting
 * and returns the run to the scheduled pool. All-or-nothing. */
func (q *Queries) RetryTask(ctx context.Context, workflowRunID uuid.UUID, taskOrder int32) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		var status TaskStatus
		err := tx.GetContext(ctx, &status, `
			SELECT status
			FROM neurondb_flow.task_queue
			WHERE workflow_run_id = $1 AND task_order = $2
			FOR UPDATE`, workflowRunID, taskOrder)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task queue record %s/%d: %w", workflowRunID, taskOrder, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock task %s/%d: %w", workflowRunID, taskOrder, err)
		}
		if status != TaskStatusFailed && status != TaskStatusRuleBroken {
			return fmt.Errorf("cannot retry task %s/%d with status %s, must be Failed or Rule Broken: %w",
				workflowRunID, taskOrder, status, ErrInvalidTransition)
		}

		if err := q.archiveTaskRows(ctx, tx, workflowRunID, &taskOrder); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET status = 'Waiting', output = NULL, rules = NULL,
			    task_start = NULL, task_end = NULL, progress = NULL
			WHERE workflow_run_id = $1 AND task_order = $2`,
			workflowRunID, taskOrder); err != nil {
			return fmt.Errorf("reset task %s/%d: %w", workflowRunID, taskOrder, err)
		}
		_, err = q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:        RunStatusScheduled,
			allowedFrom:   []WorkflowRunStatus{RunStatusFailed, RunStatusPaused, RunStatusCanceled, RunStatusScheduled},
			clearExecutor: true,
		})
		return err
	})
}

/* archiveTaskRows snapshots queue rows into task_queue_archive. A nil
 * taskOrder archives the whole run. */
func (q *Queries) archiveTaskRows(ctx context.Context, tx *sqlx.Tx, workflowRunID uuid.UUID, taskOrder *int32) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO neurondb_flow.task_queue_archive
			(workflow_run_id, task_order, task_id, status, parameters, output, rules,
			 task_start, task_end, progress)
		SELECT workflow_run_id, task_order, task_id, status, parameters, output, rules,
		       task_start, task_end, progress
		FROM neurondb_flow.task_queue
		WHERE workflow_run_id = $1
		  AND ($2::int IS NULL OR task_order = $2)`,
		workflowRunID, taskOrder)
	if err != nil {
		return fmt.Errorf("archive task rows of run %s: %w", workflowRunID, err)
	}
	return nil
}
