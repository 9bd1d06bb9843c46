/*-------------------------------------------------------------------------
 *
 * executor_queries.go
 *    Executor registry for NeuronFlow
 *
 * Registers live executor sessions, tracks liveness against
 * pg_stat_activity, publishes shutdown/cancel requests, closes executors
 * and reaps ghosts whose backing session vanished.
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

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

const readExecutorQuery = `
	SELECT e.executor_id, e.pid, e.username, e.application_name, e.client_addr::text AS client_addr,
	       e.client_port, e.exec_start, e.exec_end, e.status, e.error_message,
	       e.session_active, e.wr_count
	FROM neurondb_flow.v_executors e
	WHERE e.executor_id = $1`

const listExecutorsQuery = `
	SELECT e.executor_id, e.pid, e.username, e.application_name, e.client_addr::text AS client_addr,
	       e.client_port, e.exec_start, e.exec_end, e.status, e.error_message,
	       e.session_active, e.wr_count
	FROM neurondb_flow.v_executors e
	ORDER BY e.executor_id`

const listActiveExecutorsQuery = `
	SELECT e.executor_id, e.pid, e.username, e.application_name, e.client_addr::text AS client_addr,
	       e.client_port, e.exec_start, e.exec_end, e.status, e.error_message,
	       e.session_active, e.wr_count
	FROM neurondb_flow.v_active_executors e
	ORDER BY e.executor_id`

/* RegisterExecutor creates a record for a new executor session, capturing
 * the calling session's identity from pg_stat_activity */
func (q *Queries) RegisterExecutor(ctx context.Context) (int64, error) {
	var executorID int64
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &executorID, `
			INSERT INTO neurondb_flow.executors
				(pid, username, application_name, client_addr, client_port, exec_start)
			SELECT a.pid, a.usename, coalesce(a.application_name, ''), a.client_addr, a.client_port, now()
			FROM pg_stat_activity a
			WHERE a.pid = pg_backend_pid()
			RETURNING executor_id`)
	})
	if err != nil {
		return 0, fmt.Errorf("register executor: %w", err)
	}
	metrics.RecordExecutorRegistered()
	return executorID, nil
}

/* ReadExecutor reads one executor with liveness and load */
func (q *Queries) ReadExecutor(ctx context.Context, executorID int64) (*Executor, error) {
	var executor Executor
	if err := q.DB.GetContext(ctx, &executor, readExecutorQuery, executorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("executor %d: %w", executorID, ErrNotFound)
		}
		return nil, fmt.Errorf("read executor %d: %w", executorID, err)
	}
	return &executor, nil
}

/* ReadExecutorStatus reads the status of one executor */
func (q *Queries) ReadExecutorStatus(ctx context.Context, executorID int64) (ExecutorStatus, error) {
	var status ExecutorStatus
	if err := q.DB.GetContext(ctx, &status,
		`SELECT e.status FROM neurondb_flow.executors e WHERE e.executor_id = $1`, executorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("executor %d: %w", executorID, ErrNotFound)
		}
		return "", fmt.Errorf("read executor status %d: %w", executorID, err)
	}
	return status, nil
}

/* ListExecutors lists all executors, live or not */
func (q *Queries) ListExecutors(ctx context.Context) ([]Executor, error) {
	var executors []Executor
	if err := q.DB.SelectContext(ctx, &executors, listExecutorsQuery); err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	return executors, nil
}

/* ListActiveExecutors lists executors whose status is Active */
func (q *Queries) ListActiveExecutors(ctx context.Context) ([]Executor, error) {
	var executors []Executor
	if err := q.DB.SelectContext(ctx, &executors, listActiveExecutorsQuery); err != nil {
		return nil, fmt.Errorf("list active executors: %w", err)
	}
	return executors, nil
}

/* ShutdownExecutor requests a graceful shutdown. The executor learns about
 * it on its status topic and drains its workers before closing. */
func (q *Queries) ShutdownExecutor(ctx context.Context, executorID int64) error {
	return q.setExecutorStatus(ctx, executorID, ExecutorStatusShutdown, ExecutorStatusPayloadShutdown)
}

/* CancelExecutor requests a forced shutdown. The executor aborts its
 * workers on receipt. */
func (q *Queries) CancelExecutor(ctx context.Context, executorID int64) error {
	return q.setExecutorStatus(ctx, executorID, ExecutorStatusCanceled, ExecutorStatusPayloadCancel)
}

func (q *Queries) setExecutorStatus(ctx context.Context, executorID int64, status ExecutorStatus, payload string) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.executors
			SET status = $2
			WHERE executor_id = $1 AND status = 'Active'`, executorID, status)
		if err != nil {
			return fmt.Errorf("set executor %d status %s: %w", executorID, status, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("executor %d is not Active: %w", executorID, ErrInvalidTransition)
		}
		return notify(ctx, tx, TopicExecutorStatus(executorID), payload)
	})
}

/* CloseExecutor stamps the end of an executor session and cancels any run
 * it still owned, including their still-Running tasks. Called by the
 * executor itself as the final step of its lifecycle. */
func (q *Queries) CloseExecutor(ctx context.Context, executorID int64, isCancelled bool) error {
	status := ExecutorStatusShutdown
	if isCancelled {
		status = ExecutorStatusCanceled
	}
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.executors
			SET status = $2, exec_end = now()
			WHERE executor_id = $1`, executorID, status); err != nil {
			return fmt.Errorf("close executor %d: %w", executorID, err)
		}
		return q.cancelOwnedRuns(ctx, tx, executorID)
	})
	if err == nil {
		metrics.RecordExecutorClosed(string(status))
	}
	return err
}

/* PostExecutorError records a fatal error message on the executor row */
func (q *Queries) PostExecutorError(ctx context.Context, executorID int64, message string) error {
	if _, err := q.DB.ExecContext(ctx, `
		UPDATE neurondb_flow.executors
		SET error_message = $2
		WHERE executor_id = $1`, executorID, message); err != nil {
		return fmt.Errorf("post executor %d error: %w", executorID, err)
	}
	return nil
}

/* CleanExecutors reaps executors still marked Active whose backing session
 * no longer exists, canceling their orphaned runs and tasks. This is the
 * only recovery path for an executor process that vanished without
 * calling close. */
func (q *Queries) CleanExecutors(ctx context.Context) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		var ghosts []int64
		if err := tx.SelectContext(ctx, &ghosts, `
			SELECT e.executor_id
			FROM neurondb_flow.executors e
			WHERE e.status = 'Active'
			  AND NOT EXISTS (SELECT 1 FROM pg_stat_activity a WHERE a.pid = e.pid)
			FOR UPDATE OF e`); err != nil {
			return fmt.Errorf("find ghost executors: %w", err)
		}

		for _, executorID := range ghosts {
			if _, err := tx.ExecContext(ctx, `
				UPDATE neurondb_flow.executors
				SET status = 'Canceled', exec_end = now()
				WHERE executor_id = $1`, executorID); err != nil {
				return fmt.Errorf("reap executor %d: %w", executorID, err)
			}
			if err := q.cancelOwnedRuns(ctx, tx, executorID); err != nil {
				return err
			}
			metrics.RecordExecutorReaped()
			metrics.InfoWithContext(ctx, "Reaped ghost executor", map[string]interface{}{
				"executor_id": executorID,
			})
		}
		return nil
	})
}

/* cancelOwnedRuns cancels every Running workflow run owned by an executor
 * along with its still-Running tasks */
func (q *Queries) cancelOwnedRuns(ctx context.Context, tx *sqlx.Tx, executorID int64) error {
	var runIDs []uuid.UUID
	if err := tx.SelectContext(ctx, &runIDs, `
		SELECT wr.workflow_run_id
		FROM neurondb_flow.workflow_runs wr
		WHERE wr.executor_id = $1 AND wr.status = 'Running'
		FOR UPDATE OF wr`, executorID); err != nil {
		return fmt.Errorf("find runs owned by executor %d: %w", executorID, err)
	}

	for _, runID := range runIDs {
		if _, err := q.applyRunTransition(ctx, tx, runID, runTransition{
			status:        RunStatusCanceled,
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
			runID, TaskExecutorCanceledOutput); err != nil {
			return fmt.Errorf("cancel running tasks of run %s: %w", runID, err)
		}
	}
	return nil
}

/* nextExecutor picks the least loaded executor that is Active and whose
 * session is live. Returns nil when none qualifies. */
func (q *Queries) nextExecutor(ctx context.Context, tx *sqlx.Tx) (*int64, error) {
	var executorID int64
	err := tx.GetContext(ctx, &executorID, `
		SELECT e.executor_id
		FROM neurondb_flow.executors e
		JOIN pg_stat_activity a ON a.pid = e.pid
		LEFT JOIN LATERAL (
			SELECT count(*) AS wr_count
			FROM neurondb_flow.workflow_runs wr
			WHERE wr.executor_id = e.executor_id
			  AND wr.status IN ('Scheduled', 'Running')
		) wr ON true
		WHERE e.status = 'Active'
		ORDER BY coalesce(wr.wr_count, 0), e.executor_id
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick next executor: %w", err)
	}
	return &executorID, nil
}
