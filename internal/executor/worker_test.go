/*-------------------------------------------------------------------------
 *
 * worker_test.go
 *    Workflow run worker tests for NeuronFlow
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package executor

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/neurondb/NeuronFlow/internal/db"
)

/* TestWorkerSettlesDrainedRun checks the worker settles the run as soon
 * as no task is available */
func TestWorkerSettlesDrainedRun(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer mockDB.Close()
	queries := db.NewQueries(sqlx.NewDb(mockDB, "sqlmock"))
	runID := uuid.New()

	/* NextTask finds nothing */
	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.task_queue tq").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"workflow_run_id", "task_order", "task_id", "status", "parameters", "url"}))
	mock.ExpectCommit()

	/* CompleteWorkflowRun settles from the distribution: every task is
	 * Complete, so the run completes at 100 */
	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"workflow_run_id", "workflow_id", "status", "executor_id", "progress"}).
			AddRow(runID.String(), 7, "Running", 5, 100))
	mock.ExpectQuery("FROM neurondb_flow.task_queue").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"total", "complete", "failed", "rule_broken", "paused", "canceled"}).
			AddRow(2, 2, 0, 0, 0, 0))
	mock.ExpectQuery("FROM neurondb_flow.workflow_runs wr").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"workflow_run_id", "workflow_id", "status", "executor_id", "progress"}).
			AddRow(runID.String(), 7, "Running", 5, 100))
	mock.ExpectExec("UPDATE neurondb_flow.workflow_runs").
		WithArgs(runID, "Complete", nil, 100).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT j.job_id FROM neurondb_flow.jobs j").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
	mock.ExpectCommit()

	worker := NewWorkflowRunWorker(runID, queries, NewDriver(queries, 0))
	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("worker Run failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
