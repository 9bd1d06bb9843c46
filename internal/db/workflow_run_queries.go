/*-------------------------------------------------------------------------
 *
 * workflow_run_queries.go
 *    Workflow run lifecycle for NeuronFlow
 *
 * Implements initialize, schedule, start, cancel, restart, move and
 * complete for workflow runs. Every status change funnels through
 * applyRunTransition, the single place encoding the transition side
 * effects: executor auto-assignment on Scheduled, cancel notification to
 * the old owner, and job settlement wake-ups on terminal statuses.
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

const readWorkflowRunQuery = `
	SELECT wr.workflow_run_id, wr.workflow_id, wr.status, wr.executor_id, wr.progress, wr.tasks
	FROM neurondb_flow.v_workflow_runs wr
	WHERE wr.workflow_run_id = $1`

const listWorkflowRunsQuery = `
	SELECT wr.workflow_run_id, wr.workflow_id, wr.status, wr.executor_id, wr.progress, wr.tasks
	FROM neurondb_flow.v_workflow_runs wr
	ORDER BY wr.workflow_run_id`

/* lockRunQuery locks the run row for the rest of the transaction */
const lockRunQuery = `
	SELECT wr.workflow_run_id, wr.workflow_id, wr.status, wr.executor_id, wr.progress
	FROM neurondb_flow.workflow_runs wr
	WHERE wr.workflow_run_id = $1
	FOR UPDATE`

/* runRow is the locked shape applyRunTransition works against */
type runRow struct {
	WorkflowRunID uuid.UUID         `db:"workflow_run_id"`
	WorkflowID    int64             `db:"workflow_id"`
	Status        WorkflowRunStatus `db:"status"`
	ExecutorID    *int64            `db:"executor_id"`
	Progress      *int16            `db:"progress"`
}

/* runTransition describes one status change request */
type runTransition struct {
	status        WorkflowRunStatus
	allowedFrom   []WorkflowRunStatus
	setExecutor   *int64
	clearExecutor bool
	setProgress   bool
	progress      *int16
}

/* applyRunTransition is the transition hook every run status change goes
 * through. It locks the row, checks the precondition statuses, assigns an
 * executor when moving to Scheduled without an owner, writes the row, and
 * publishes the wake-ups the transition implies. */
func (q *Queries) applyRunTransition(ctx context.Context, tx *sqlx.Tx, workflowRunID uuid.UUID, t runTransition) (*runRow, error) {
	var row runRow
	if err := tx.GetContext(ctx, &row, lockRunQuery, workflowRunID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow run %s: %w", workflowRunID, ErrNotFound)
		}
		return nil, fmt.Errorf("lock workflow run %s: %w", workflowRunID, err)
	}

	if len(t.allowedFrom) > 0 {
		allowed := false
		for _, s := range t.allowedFrom {
			if row.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("workflow run %s is %s, cannot move to %s: %w",
				workflowRunID, row.Status, t.status, ErrInvalidTransition)
		}
	}

	executorID := row.ExecutorID
	if t.clearExecutor {
		executorID = nil
	}
	if t.setExecutor != nil {
		executorID = t.setExecutor
	}

	/* Auto-assign the least loaded live executor on the Scheduled
	 * transition when no owner is set */
	if t.status == RunStatusScheduled && executorID == nil {
		picked, err := q.nextExecutor(ctx, tx)
		if err != nil {
			return nil, err
		}
		executorID = picked
	}

	progress := row.Progress
	if t.setProgress {
		progress = t.progress
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE neurondb_flow.workflow_runs
		SET status = $2, executor_id = $3, progress = $4, updated_at = now()
		WHERE workflow_run_id = $1`,
		workflowRunID, t.status, executorID, progress); err != nil {
		return nil, fmt.Errorf("update workflow run %s: %w", workflowRunID, err)
	}

	if t.status == RunStatusScheduled && executorID != nil {
		if err := notify(ctx, tx, TopicWorkflowRunScheduled(*executorID), workflowRunID.String()); err != nil {
			return nil, err
		}
	}
	if t.status == RunStatusCanceled && row.ExecutorID != nil {
		if err := notify(ctx, tx, TopicWorkflowRunCanceled(*row.ExecutorID), workflowRunID.String()); err != nil {
			return nil, err
		}
	}
	if t.status.Terminal() {
		var jobID int64
		err := tx.GetContext(ctx, &jobID,
			`SELECT j.job_id FROM neurondb_flow.jobs j WHERE j.current_workflow_run_id = $1`,
			workflowRunID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			/* Not a job-owned run */
		case err != nil:
			return nil, fmt.Errorf("find owning job of run %s: %w", workflowRunID, err)
		default:
			if err := notify(ctx, tx, TopicJobs, fmt.Sprintf("%d", jobID)); err != nil {
				return nil, err
			}
		}
	}

	if t.setProgress && !progressEqual(row.Progress, progress) {
		if err := notify(ctx, tx, TopicWorkflowRunProgress, workflowRunID.String()); err != nil {
			return nil, err
		}
	}

	return &row, nil
}

func progressEqual(a, b *int16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

/* taskQueuePartition names the per-run partition of task_queue */
func taskQueuePartition(workflowRunID uuid.UUID) string {
	return "task_queue_" + strings.ReplaceAll(workflowRunID.String(), "-", "_")
}

/* InitializeWorkflowRun snapshots the workflow template into a fresh run:
 * the run row, its task_queue partition and one queue row per template
 * task, all-or-nothing. Deprecated workflows are rejected with a pointer
 * to the successor when one is set. */
func (q *Queries) InitializeWorkflowRun(ctx context.Context, workflowID int64) (*WorkflowRun, error) {
	var workflowRunID uuid.UUID
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		workflowRunID, err = q.initializeWorkflowRunTx(ctx, tx, workflowID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordWorkflowRunInitialized()
	return q.ReadWorkflowRun(ctx, workflowRunID)
}

/* initializeWorkflowRunTx is the transactional body of initialize; RunJob
 * reuses it to keep the whole job run all-or-nothing */
func (q *Queries) initializeWorkflowRunTx(ctx context.Context, tx *sqlx.Tx, workflowID int64) (uuid.UUID, error) {
	var workflow struct {
		IsDeprecated bool   `db:"is_deprecated"`
		NewWorkflow  *int64 `db:"new_workflow"`
	}
	err := tx.GetContext(ctx, &workflow, `
		SELECT w.is_deprecated, w.new_workflow
		FROM neurondb_flow.workflows w
		WHERE w.workflow_id = $1
		FOR SHARE`, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("workflow %d: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("read workflow %d: %w", workflowID, err)
	}
	if workflow.IsDeprecated {
		if workflow.NewWorkflow != nil {
			return uuid.Nil, fmt.Errorf("workflow %d is deprecated, use workflow %d instead: %w",
				workflowID, *workflow.NewWorkflow, ErrWorkflowDeprecated)
		}
		return uuid.Nil, fmt.Errorf("workflow %d is deprecated: %w", workflowID, ErrWorkflowDeprecated)
	}

	var workflowRunID uuid.UUID
	if err := tx.GetContext(ctx, &workflowRunID, `
		INSERT INTO neurondb_flow.workflow_runs (workflow_id)
		VALUES ($1)
		RETURNING workflow_run_id`, workflowID); err != nil {
		return uuid.Nil, fmt.Errorf("insert workflow run: %w", err)
	}

	/* The partition is the unit of locality and bulk purge for the run's
	 * queue rows. Identifier built from a uuid, not user input. */
	createPartition := fmt.Sprintf(
		`CREATE TABLE neurondb_flow.%s PARTITION OF neurondb_flow.task_queue FOR VALUES IN ('%s')`,
		taskQueuePartition(workflowRunID), workflowRunID)
	if _, err := tx.ExecContext(ctx, createPartition); err != nil {
		return uuid.Nil, fmt.Errorf("create task queue partition for run %s: %w", workflowRunID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO neurondb_flow.task_queue (workflow_run_id, task_order, task_id, parameters)
		SELECT $1, wt.task_order, wt.task_id, wt.parameters
		FROM neurondb_flow.workflow_tasks wt
		WHERE wt.workflow_id = $2
		ORDER BY wt.task_order`, workflowRunID, workflowID); err != nil {
		return uuid.Nil, fmt.Errorf("populate task queue for run %s: %w", workflowRunID, err)
	}
	return workflowRunID, nil
}

/* ReadWorkflowRun reads one run with its embedded task array */
func (q *Queries) ReadWorkflowRun(ctx context.Context, workflowRunID uuid.UUID) (*WorkflowRun, error) {
	var run WorkflowRun
	if err := q.DB.GetContext(ctx, &run, readWorkflowRunQuery, workflowRunID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow run %s: %w", workflowRunID, ErrNotFound)
		}
		return nil, fmt.Errorf("read workflow run %s: %w", workflowRunID, err)
	}
	return &run, nil
}

/* ListWorkflowRuns reads all runs with their embedded task arrays */
func (q *Queries) ListWorkflowRuns(ctx context.Context) ([]WorkflowRun, error) {
	var runs []WorkflowRun
	if err := q.DB.SelectContext(ctx, &runs, listWorkflowRunsQuery); err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	return runs, nil
}

/* ScheduleWorkflowRun moves a Waiting run to Scheduled. The transition
 * hook assigns a live executor when one exists and wakes it up. */
func (q *Queries) ScheduleWorkflowRun(ctx context.Context, workflowRunID uuid.UUID) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:      RunStatusScheduled,
			allowedFrom: []WorkflowRunStatus{RunStatusWaiting},
		})
		return err
	})
}

/* ScheduleWorkflowRunWithExecutor schedules a Waiting run onto a specific
 * executor instead of the least loaded one */
func (q *Queries) ScheduleWorkflowRunWithExecutor(ctx context.Context, workflowRunID uuid.UUID, executorID int64) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:      RunStatusScheduled,
			allowedFrom: []WorkflowRunStatus{RunStatusWaiting},
			setExecutor: &executorID,
		})
		return err
	})
}

/* CancelWorkflowRun cancels a run that has not settled yet. A Running
 * owner learns about it through its wr_canceled topic; still-Running
 * tasks are canceled with the fixed output message. */
func (q *Queries) CancelWorkflowRun(ctx context.Context, workflowRunID uuid.UUID) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:        RunStatusCanceled,
			allowedFrom:   []WorkflowRunStatus{RunStatusWaiting, RunStatusScheduled, RunStatusRunning, RunStatusPaused},
			clearExecutor: true,
			setProgress:   true,
			progress:      nil,
		}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET status = 'Canceled', task_end = now(), output = $2
			WHERE workflow_run_id = $1 AND status = 'Running'`,
			workflowRunID, TaskExecutorCanceledOutput); err != nil {
			return fmt.Errorf("cancel running tasks of run %s: %w", workflowRunID, err)
		}
		return nil
	})
}

/* RestartWorkflowRun archives every queue row of a settled run, resets
 * them to Waiting and returns the run to the Waiting state with no owner.
 * All-or-nothing. */
func (q *Queries) RestartWorkflowRun(ctx context.Context, workflowRunID uuid.UUID) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:        RunStatusWaiting,
			allowedFrom:   []WorkflowRunStatus{RunStatusFailed, RunStatusPaused, RunStatusCanceled},
			clearExecutor: true,
			setProgress:   true,
			progress:      nil,
		}); err != nil {
			return err
		}
		if err := q.archiveTaskRows(ctx, tx, workflowRunID, nil); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue
			SET status = 'Waiting', output = NULL, rules = NULL,
			    task_start = NULL, task_end = NULL, progress = NULL
			WHERE workflow_run_id = $1`, workflowRunID); err != nil {
			return fmt.Errorf("reset task queue of run %s: %w", workflowRunID, err)
		}
		return nil
	})
}

/* StartWorkflowRunMove is phase one of the executor hand-off: bookmark the
 * earliest Waiting task as Paused so neither executor picks it up. */
func (q *Queries) StartWorkflowRunMove(ctx context.Context, workflowRunID uuid.UUID) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue tq
			SET status = 'Paused'
			FROM (
				SELECT workflow_run_id, task_order
				FROM neurondb_flow.task_queue
				WHERE workflow_run_id = $1 AND status = 'Waiting'
				ORDER BY task_order
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			) next
			WHERE tq.workflow_run_id = next.workflow_run_id AND tq.task_order = next.task_order`,
			workflowRunID)
		if err != nil {
			return fmt.Errorf("start move for run %s: %w", workflowRunID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s has no waiting task to move: %w", workflowRunID, ErrInvalidTransition)
		}
		return nil
	})
}

/* CompleteWorkflowRunMove is phase two of the hand-off: release the
 * bookmark and rejoin the scheduled pool, letting the transition hook
 * pick the now-least-loaded live executor. */
func (q *Queries) CompleteWorkflowRunMove(ctx context.Context, workflowRunID uuid.UUID) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.task_queue tq
			SET status = 'Waiting'
			FROM (
				SELECT workflow_run_id, task_order
				FROM neurondb_flow.task_queue
				WHERE workflow_run_id = $1 AND status = 'Paused'
				ORDER BY task_order
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			) next
			WHERE tq.workflow_run_id = next.workflow_run_id AND tq.task_order = next.task_order`,
			workflowRunID)
		if err != nil {
			return fmt.Errorf("complete move for run %s: %w", workflowRunID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s has no paused task to release: %w", workflowRunID, ErrInvalidTransition)
		}
		_, err = q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:        RunStatusScheduled,
			allowedFrom:   []WorkflowRunStatus{RunStatusRunning, RunStatusScheduled, RunStatusPaused},
			clearExecutor: true,
		})
		return err
	})
}

/* CompleteWorkflowRun settles a run from the distribution of its task
 * statuses. The cascade, in order: all Complete, any Failed, any Rule
 * Broken, any Paused, any Canceled, otherwise Paused. The owner is always
 * released. */
func (q *Queries) CompleteWorkflowRun(ctx context.Context, workflowRunID uuid.UUID) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		/* Lock the run first so the distribution cannot shift under us */
		var row runRow
		if err := tx.GetContext(ctx, &row, lockRunQuery, workflowRunID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("workflow run %s: %w", workflowRunID, ErrNotFound)
			}
			return fmt.Errorf("lock workflow run %s: %w", workflowRunID, err)
		}

		var dist struct {
			Total      int64 `db:"total"`
			Complete   int64 `db:"complete"`
			Failed     int64 `db:"failed"`
			RuleBroken int64 `db:"rule_broken"`
			Paused     int64 `db:"paused"`
			Canceled   int64 `db:"canceled"`
		}
		if err := tx.GetContext(ctx, &dist, `
			SELECT
				count(*) AS total,
				count(*) FILTER (WHERE status = 'Complete') AS complete,
				count(*) FILTER (WHERE status = 'Failed') AS failed,
				count(*) FILTER (WHERE status = 'Rule Broken') AS rule_broken,
				count(*) FILTER (WHERE status = 'Paused') AS paused,
				count(*) FILTER (WHERE status = 'Canceled') AS canceled
			FROM neurondb_flow.task_queue
			WHERE workflow_run_id = $1`, workflowRunID); err != nil {
			return fmt.Errorf("read task distribution of run %s: %w", workflowRunID, err)
		}

		full := int16(100)
		var status WorkflowRunStatus
		var progress *int16
		switch {
		case dist.Total > 0 && dist.Complete == dist.Total:
			status, progress = RunStatusComplete, &full
		case dist.Failed > 0:
			status, progress = RunStatusFailed, nil
		case dist.RuleBroken > 0:
			status, progress = RunStatusPaused, &full
		case dist.Paused > 0:
			status, progress = RunStatusPaused, &full
		case dist.Canceled > 0:
			status, progress = RunStatusCanceled, nil
		default:
			status, progress = RunStatusPaused, nil
		}

		_, err := q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:        status,
			clearExecutor: true,
			setProgress:   true,
			progress:      progress,
		})
		if err == nil {
			metrics.RecordWorkflowRunCompleted(string(status))
		}
		return err
	})
}

/* UpdateWorkflowRunProgress recomputes the run's progress from completed
 * task counts, publishing wr_progress when the value actually changed */
func (q *Queries) UpdateWorkflowRunProgress(ctx context.Context, workflowRunID uuid.UUID) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		return q.updateRunProgress(ctx, tx, workflowRunID)
	})
}

func (q *Queries) updateRunProgress(ctx context.Context, tx *sqlx.Tx, workflowRunID uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE neurondb_flow.workflow_runs wr
		SET progress = sub.pct, updated_at = now()
		FROM (
			SELECT round(count(*) FILTER (WHERE status = 'Complete')::numeric / nullif(count(*), 0) * 100)::smallint AS pct
			FROM neurondb_flow.task_queue
			WHERE workflow_run_id = $1
		) sub
		WHERE wr.workflow_run_id = $1
		  AND wr.progress IS DISTINCT FROM sub.pct`, workflowRunID)
	if err != nil {
		return fmt.Errorf("update progress of run %s: %w", workflowRunID, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return notify(ctx, tx, TopicWorkflowRunProgress, workflowRunID.String())
	}
	return nil
}

/* NextWorkflowRun leases the next Scheduled run available to the executor,
 * skipping contended rows. A valid lease starts the run (Running, owner
 * stamped, progress zeroed). An invalid lease is returned untouched so the
 * caller can decide how to settle it. Returns nil when no run is ready. */
func (q *Queries) NextWorkflowRun(ctx context.Context, executorID int64) (*ExecutorWorkflowRun, error) {
	var lease *ExecutorWorkflowRun
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var row ExecutorWorkflowRun
		err := tx.GetContext(ctx, &row, `
			SELECT
				wr.workflow_run_id,
				wr.status,
				NOT EXISTS (
					SELECT 1
					FROM neurondb_flow.task_queue tq
					WHERE tq.workflow_run_id = wr.workflow_run_id
					  AND tq.status NOT IN ('Waiting', 'Complete')
				) AS is_valid
			FROM neurondb_flow.workflow_runs wr
			WHERE wr.status = 'Scheduled'
			  AND (wr.executor_id IS NULL OR wr.executor_id = $1)
			ORDER BY wr.created_at
			LIMIT 1
			FOR UPDATE OF wr SKIP LOCKED`, executorID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lease next workflow run: %w", err)
		}
		lease = &row
		if !row.IsValid {
			return nil
		}

		zero := int16(0)
		if _, err := q.applyRunTransition(ctx, tx, row.WorkflowRunID, runTransition{
			status:      RunStatusRunning,
			allowedFrom: []WorkflowRunStatus{RunStatusScheduled},
			setExecutor: &executorID,
			setProgress: true,
			progress:    &zero,
		}); err != nil {
			return err
		}
		lease.Status = RunStatusRunning
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

/* ExecutorWorkflowRuns lists the in-flight runs owned by an executor,
 * with their validity. Used on executor startup to resume work. */
func (q *Queries) ExecutorWorkflowRuns(ctx context.Context, executorID int64) ([]ExecutorWorkflowRun, error) {
	var runs []ExecutorWorkflowRun
	if err := q.DB.SelectContext(ctx, &runs, `
		SELECT
			wr.workflow_run_id,
			wr.status,
			NOT EXISTS (
				SELECT 1
				FROM neurondb_flow.task_queue tq
				WHERE tq.workflow_run_id = wr.workflow_run_id
				  AND tq.status NOT IN ('Waiting', 'Complete')
			) AS is_valid
		FROM neurondb_flow.workflow_runs wr
		WHERE wr.executor_id = $1
		  AND wr.status IN ('Scheduled', 'Running')
		ORDER BY wr.created_at`, executorID); err != nil {
		return nil, fmt.Errorf("list workflow runs of executor %d: %w", executorID, err)
	}
	return runs, nil
}
