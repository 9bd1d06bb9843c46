/*-------------------------------------------------------------------------
 *
 * worker_test.go
 *    Job scheduler worker tests for NeuronFlow
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/neurondb/NeuronFlow/internal/db"
)

func newMockWorker(t *testing.T) (*JobWorker, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return &JobWorker{
		queries:      db.NewQueries(sqlx.NewDb(mockDB, "sqlmock")),
		pollInterval: time.Minute,
		jobs:         make(map[int64]db.JobMin),
	}, mock
}

func TestNextWaitWithoutJobs(t *testing.T) {
	worker, _ := newMockWorker(t)

	if wait := worker.nextWait(); wait != time.Minute {
		t.Errorf("expected poll interval wait with empty due-set, got %v", wait)
	}
}

func TestNextWaitClampsPastDue(t *testing.T) {
	worker, _ := newMockWorker(t)
	worker.jobs[3] = db.JobMin{JobID: 3, NextRun: time.Now().UTC().Add(-time.Hour)}
	worker.nextJob = 3

	if wait := worker.nextWait(); wait != 0 {
		t.Errorf("expected zero wait for a past-due job, got %v", wait)
	}
}

func TestNextWaitCapsAtPollInterval(t *testing.T) {
	worker, _ := newMockWorker(t)
	worker.jobs[3] = db.JobMin{JobID: 3, NextRun: time.Now().UTC().Add(24 * time.Hour)}
	worker.nextJob = 3

	if wait := worker.nextWait(); wait != time.Minute {
		t.Errorf("expected wait capped at poll interval, got %v", wait)
	}
}

func TestLoadJobsTracksEarliest(t *testing.T) {
	worker, mock := newMockWorker(t)
	earliest := time.Now().UTC().Add(time.Hour)

	mock.ExpectQuery("FROM neurondb_flow.v_queued_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "next_run"}).
			AddRow(7, earliest).
			AddRow(9, earliest.Add(time.Hour)))

	if err := worker.loadJobs(context.Background()); err != nil {
		t.Fatalf("loadJobs failed: %v", err)
	}
	if worker.nextJob != 7 {
		t.Errorf("expected next job 7, got %d", worker.nextJob)
	}
	if len(worker.jobs) != 2 {
		t.Errorf("expected 2 jobs in due-set, got %d", len(worker.jobs))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestLoadJobsRejectsDuplicateJobID checks the due-set reload fails fast
 * when the store hands back the same job twice */
func TestLoadJobsRejectsDuplicateJobID(t *testing.T) {
	worker, mock := newMockWorker(t)
	slot := time.Now().UTC().Add(time.Hour)

	mock.ExpectQuery("FROM neurondb_flow.v_queued_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "next_run"}).
			AddRow(7, slot).
			AddRow(7, slot.Add(time.Hour)))

	err := worker.loadJobs(context.Background())
	if !errors.Is(err, ErrDuplicateJobID) {
		t.Errorf("expected ErrDuplicateJobID, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestHandleNotificationBadPayload checks a malformed payload only
 * triggers a due-set reload */
func TestHandleNotificationBadPayload(t *testing.T) {
	worker, mock := newMockWorker(t)

	mock.ExpectQuery("FROM neurondb_flow.v_queued_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "next_run"}))

	if err := worker.handleNotification(context.Background(), "not-a-job-id"); err != nil {
		t.Fatalf("handleNotification failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

/* TestRunNextJobSkipsFuture checks a job whose slot has not arrived is
 * left alone */
func TestRunNextJobSkipsFuture(t *testing.T) {
	worker, _ := newMockWorker(t)
	worker.jobs[3] = db.JobMin{JobID: 3, NextRun: time.Now().UTC().Add(time.Hour)}
	worker.nextJob = 3

	if err := worker.runNextJob(context.Background()); err != nil {
		t.Fatalf("runNextJob failed: %v", err)
	}
}
