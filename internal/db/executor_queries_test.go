/*-------------------------------------------------------------------------
 *
 * executor_queries_test.go
 *    Executor registry tests for NeuronFlow
 *
 * Exercises status transitions, the close path and the ghost reaper
 * against a mocked connection.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestShutdownExecutorPublishesRequest(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE neurondb_flow.executors").
		WithArgs(int64(5), "Shutdown").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicExecutorStatus(5), ExecutorStatusPayloadShutdown).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := queries.ShutdownExecutor(context.Background(), 5); err != nil {
		t.Fatalf("ShutdownExecutor failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCancelExecutorPublishesRequest(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE neurondb_flow.executors").
		WithArgs(int64(5), "Canceled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicExecutorStatus(5), ExecutorStatusPayloadCancel).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := queries.CancelExecutor(context.Background(), 5); err != nil {
		t.Fatalf("CancelExecutor failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestShutdownExecutorRequiresActive(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE neurondb_flow.executors").
		WithArgs(int64(5), "Shutdown").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := queries.ShutdownExecutor(context.Background(), 5)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestCloseExecutorCancelsOwnedRuns checks the close path moves owned
 * Running runs to Canceled and stamps the fixed output on their tasks */
func TestCloseExecutorCancelsOwnedRuns(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE neurondb_flow.executors").
		WithArgs(int64(5), "Canceled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT wr.workflow_run_id").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"workflow_run_id"}).AddRow(runID.String()))
	/* applyRunTransition for the orphaned run */
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(lockedRunRow(runID, RunStatusRunning, 5, 50))
	mock.ExpectExec("UPDATE neurondb_flow.workflow_runs").
		WithArgs(runID, "Canceled", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicWorkflowRunCanceled(5), runID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT j.job_id FROM neurondb_flow.jobs j").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicWorkflowRunProgress, runID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE neurondb_flow.task_queue").
		WithArgs(runID, TaskExecutorCanceledOutput).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := queries.CloseExecutor(context.Background(), 5, true); err != nil {
		t.Fatalf("CloseExecutor failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestCleanExecutorsNoGhosts checks the reaper is a no-op when every
 * Active executor still has a live session */
func TestCleanExecutorsNoGhosts(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT e.executor_id").
		WillReturnRows(sqlmock.NewRows([]string{"executor_id"}))
	mock.ExpectCommit()

	if err := queries.CleanExecutors(context.Background()); err != nil {
		t.Fatalf("CleanExecutors failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNotifyTopics(t *testing.T) {
	if got := TopicWorkflowRunScheduled(12); got != "wr_scheduled_12" {
		t.Errorf("unexpected scheduled topic: %s", got)
	}
	if got := TopicWorkflowRunCanceled(12); got != "wr_canceled_12" {
		t.Errorf("unexpected canceled topic: %s", got)
	}
	if got := TopicExecutorStatus(12); got != "exec_status_12" {
		t.Errorf("unexpected status topic: %s", got)
	}
}
