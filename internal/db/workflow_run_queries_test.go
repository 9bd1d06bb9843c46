/*-------------------------------------------------------------------------
 *
 * workflow_run_queries_test.go
 *    Workflow run lifecycle tests for NeuronFlow
 *
 * Exercises the transition hook against a mocked connection: executor
 * auto-assignment on Scheduled, cancel notifications to the old owner,
 * the completion cascade and precondition rejections.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func lockedRunRow(runID uuid.UUID, status WorkflowRunStatus, executorID interface{}, progress interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"workflow_run_id", "workflow_id", "status", "executor_id", "progress"}).
		AddRow(runID.String(), 7, string(status), executorID, progress)
}

/* TestScheduleWorkflowRunAssignsExecutor checks the Scheduled transition
 * picks the least loaded live executor and wakes it up */
func TestScheduleWorkflowRunAssignsExecutor(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(lockedRunRow(runID, RunStatusWaiting, nil, nil))
	mock.ExpectQuery("FROM neurondb_flow.executors e").
		WillReturnRows(sqlmock.NewRows([]string{"executor_id"}).AddRow(9))
	mock.ExpectExec("UPDATE neurondb_flow.workflow_runs").
		WithArgs(runID, "Scheduled", 9, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicWorkflowRunScheduled(9), runID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := queries.ScheduleWorkflowRun(context.Background(), runID); err != nil {
		t.Fatalf("ScheduleWorkflowRun failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestScheduleWorkflowRunNoExecutor checks scheduling still succeeds when
 * no live executor exists; the run waits in the pool unassigned */
func TestScheduleWorkflowRunNoExecutor(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(lockedRunRow(runID, RunStatusWaiting, nil, nil))
	mock.ExpectQuery("FROM neurondb_flow.executors e").
		WillReturnRows(sqlmock.NewRows([]string{"executor_id"}))
	mock.ExpectExec("UPDATE neurondb_flow.workflow_runs").
		WithArgs(runID, "Scheduled", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := queries.ScheduleWorkflowRun(context.Background(), runID); err != nil {
		t.Fatalf("ScheduleWorkflowRun failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestScheduleWorkflowRunRejectsRunning(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(lockedRunRow(runID, RunStatusRunning, 4, 50))
	mock.ExpectRollback()

	err := queries.ScheduleWorkflowRun(context.Background(), runID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestCancelWorkflowRunNotifiesOldOwner checks the Canceled transition
 * publishes to the previous owner and wakes the job scheduler */
func TestCancelWorkflowRunNotifiesOldOwner(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(lockedRunRow(runID, RunStatusRunning, 3, nil))
	mock.ExpectExec("UPDATE neurondb_flow.workflow_runs").
		WithArgs(runID, "Canceled", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicWorkflowRunCanceled(3), runID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT j.job_id FROM neurondb_flow.jobs j").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow(11))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicJobs, "11").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE neurondb_flow.task_queue").
		WithArgs(runID, TaskExecutorCanceledOutput).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := queries.CancelWorkflowRun(context.Background(), runID); err != nil {
		t.Fatalf("CancelWorkflowRun failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* completion cascade cases, driven by the task status distribution */
func TestCompleteWorkflowRunCascade(t *testing.T) {
	cases := []struct {
		name         string
		total        int64
		complete     int64
		failed       int64
		ruleBroken   int64
		paused       int64
		canceled     int64
		wantStatus   WorkflowRunStatus
		wantProgress interface{}
	}{
		{"all complete", 2, 2, 0, 0, 0, 0, RunStatusComplete, 100},
		{"any failed", 2, 1, 1, 0, 0, 0, RunStatusFailed, nil},
		{"rule broken", 2, 1, 0, 1, 0, 0, RunStatusPaused, 100},
		{"paused", 2, 1, 0, 0, 1, 0, RunStatusPaused, 100},
		{"canceled", 2, 1, 0, 0, 0, 1, RunStatusCanceled, nil},
		{"waiting leftovers", 2, 1, 0, 0, 0, 0, RunStatusPaused, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			queries, mock := newMockQueries(t)
			runID := uuid.New()

			mock.ExpectBegin()
			mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
				WithArgs(runID).
				WillReturnRows(lockedRunRow(runID, RunStatusRunning, 5, 50))
			mock.ExpectQuery("FROM neurondb_flow.task_queue").
				WithArgs(runID).
				WillReturnRows(sqlmock.NewRows(
					[]string{"total", "complete", "failed", "rule_broken", "paused", "canceled"}).
					AddRow(tc.total, tc.complete, tc.failed, tc.ruleBroken, tc.paused, tc.canceled))
			mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
				WithArgs(runID).
				WillReturnRows(lockedRunRow(runID, RunStatusRunning, 5, 50))
			mock.ExpectExec("UPDATE neurondb_flow.workflow_runs").
				WithArgs(runID, string(tc.wantStatus), nil, tc.wantProgress).
				WillReturnResult(sqlmock.NewResult(0, 1))
			if tc.wantStatus == RunStatusCanceled {
				mock.ExpectExec("SELECT pg_notify").
					WithArgs(TopicWorkflowRunCanceled(5), runID.String()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			}
			/* All cascade outcomes are terminal, so the job lookup runs */
			mock.ExpectQuery("SELECT j.job_id FROM neurondb_flow.jobs j").
				WithArgs(runID).
				WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
			mock.ExpectExec("SELECT pg_notify").
				WithArgs(TopicWorkflowRunProgress, runID.String()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			if err := queries.CompleteWorkflowRun(context.Background(), runID); err != nil {
				t.Fatalf("CompleteWorkflowRun failed: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestRestartWorkflowRunRejectsRunning(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(lockedRunRow(runID, RunStatusRunning, 2, 50))
	mock.ExpectRollback()

	err := queries.RestartWorkflowRun(context.Background(), runID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for Running run, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNextWorkflowRunEmptyQueue(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"workflow_run_id", "status", "is_valid"}))
	mock.ExpectCommit()

	lease, err := queries.NextWorkflowRun(context.Background(), 4)
	if err != nil {
		t.Fatalf("NextWorkflowRun failed: %v", err)
	}
	if lease != nil {
		t.Errorf("expected nil lease on empty queue, got %+v", lease)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestNextWorkflowRunInvalidLease checks an invalid run is returned
 * without being started; the caller decides how to settle it */
func TestNextWorkflowRunInvalidLease(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"workflow_run_id", "status", "is_valid"}).
			AddRow(runID.String(), "Scheduled", false))
	mock.ExpectCommit()

	lease, err := queries.NextWorkflowRun(context.Background(), 4)
	if err != nil {
		t.Fatalf("NextWorkflowRun failed: %v", err)
	}
	if lease == nil || lease.IsValid {
		t.Fatalf("expected an invalid lease, got %+v", lease)
	}
	if lease.Status != RunStatusScheduled {
		t.Errorf("invalid lease must keep its Scheduled status, got %s", lease.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestScheduleWorkflowRunLockRowError(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(lockedRunRow(runID, RunStatusWaiting, nil, nil).RowError(0, fmt.Errorf("boom")))
	mock.ExpectRollback()

	if err := queries.ScheduleWorkflowRun(context.Background(), runID); err == nil {
		t.Error("expected error from row failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
