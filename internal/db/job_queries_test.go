/*-------------------------------------------------------------------------
 *
 * job_queries_test.go
 *    Job scheduling query tests for NeuronFlow
 *
 * Exercises run_job and complete_job preconditions and settlement paths
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
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestRunJobRejectsPaused(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.jobs j").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"workflow_id", "job_type", "is_paused", "next_run", "job_interval_seconds", "job_schedule"}).
			AddRow(3, "Interval", true, time.Now().UTC(), 3600.0, nil))
	mock.ExpectRollback()

	err := queries.RunJob(context.Background(), 8)
	if !errors.Is(err, ErrJobPaused) {
		t.Errorf("expected ErrJobPaused, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunJobNotFound(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM neurondb_flow.jobs j").
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"workflow_id", "job_type", "is_paused", "next_run", "job_interval_seconds", "job_schedule"}))
	mock.ExpectRollback()

	err := queries.RunJob(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestCompleteJobCompleteRun checks a Complete run clears the reference
 * and unpauses the job */
func TestCompleteJobCompleteRun(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT j.current_workflow_run_id").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"current_workflow_run_id"}).AddRow(runID.String()))
	mock.ExpectQuery("SELECT wr.status").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Complete"))
	mock.ExpectExec("SET current_workflow_run_id = NULL, is_paused = false").
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicJobs, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := queries.CompleteJob(context.Background(), 8)
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty result for a Complete run, got %q", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestCompleteJobFailedRun checks a non-Complete terminal run keeps the
 * reference and pauses the job with a reason */
func TestCompleteJobFailedRun(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT j.current_workflow_run_id").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"current_workflow_run_id"}).AddRow(runID.String()))
	mock.ExpectQuery("SELECT wr.status").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Failed"))
	mock.ExpectExec("SET is_paused = true").
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(TopicJobs, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := queries.CompleteJob(context.Background(), 8)
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if result == "" {
		t.Error("expected a pause reason for a Failed run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCompleteJobStillRunning(t *testing.T) {
	queries, mock := newMockQueries(t)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT j.current_workflow_run_id").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"current_workflow_run_id"}).AddRow(runID.String()))
	mock.ExpectQuery("SELECT wr.status").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Running"))
	mock.ExpectRollback()

	_, err := queries.CompleteJob(context.Background(), 8)
	if !errors.Is(err, ErrJobNotDone) {
		t.Errorf("expected ErrJobNotDone, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCompleteJobWithoutCurrentRun(t *testing.T) {
	queries, mock := newMockQueries(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT j.current_workflow_run_id").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"current_workflow_run_id"}).AddRow(nil))
	mock.ExpectRollback()

	_, err := queries.CompleteJob(context.Background(), 8)
	if !errors.Is(err, ErrJobNotActive) {
		t.Errorf("expected ErrJobNotActive, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateIntervalJobValidation(t *testing.T) {
	queries, _ := newMockQueries(t)

	if _, err := queries.CreateIntervalJob(context.Background(), 1, "ops@example.com", 0, nil); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule for zero interval, got %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := queries.CreateIntervalJob(context.Background(), 1, "ops@example.com", time.Hour, &past); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule for past next_run, got %v", err)
	}
}

func TestCreateScheduledJobValidation(t *testing.T) {
	queries, _ := newMockQueries(t)

	_, err := queries.CreateScheduledJob(context.Background(), 1, "ops@example.com", JobSchedule{})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule for empty schedule, got %v", err)
	}
}
