/*-------------------------------------------------------------------------
 *
 * remote_test.go
 *    Remote task driver tests for NeuronFlow
 *
 * Streams canned task service responses through an HTTP test server and
 * checks progress and rule reports reach the store.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/neurondb/NeuronFlow/internal/db"
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	queries := db.NewQueries(sqlx.NewDb(mockDB, "sqlmock"))
	return NewDriver(queries, 0), mock
}

func TestDriverRunStreamsReports(t *testing.T) {
	driver, mock := newMockDriver(t)
	runID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Write([]byte(`{"type":"progress","progress":50}` + "\n"))
		w.Write([]byte(`{"type":"rule","rule":{"name":"row count","failed":false}}` + "\n"))
		w.Write([]byte(`{"type":"done","paused":false,"message":"loaded 120 rows"}` + "\n"))
	}))
	defer server.Close()

	/* progress report */
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE neurondb_flow.task_queue").
		WithArgs(runID, int32(1), int16(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	/* rule report */
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE neurondb_flow.task_queue").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record := &db.TaskQueueRecord{
		WorkflowRunID: runID,
		TaskOrder:     1,
		TaskID:        42,
		Status:        db.TaskStatusRunning,
		URL:           server.URL,
	}

	isPaused, message, err := driver.Run(context.Background(), record)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if isPaused {
		t.Error("expected a non-paused completion")
	}
	if message == nil || *message != "loaded 120 rows" {
		t.Errorf("unexpected message: %v", message)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDriverRunPausedDone(t *testing.T) {
	driver, _ := newMockDriver(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"done","paused":true}` + "\n"))
	}))
	defer server.Close()

	record := &db.TaskQueueRecord{WorkflowRunID: uuid.New(), TaskOrder: 1, URL: server.URL}
	isPaused, message, err := driver.Run(context.Background(), record)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !isPaused {
		t.Error("expected a paused completion")
	}
	if message != nil {
		t.Errorf("expected no message, got %v", *message)
	}
}

/* TestDriverRunStreamWithoutDone checks a stream ending without a done
 * message fails the task */
func TestDriverRunStreamWithoutDone(t *testing.T) {
	driver, mock := newMockDriver(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"progress","progress":10}` + "\n"))
	}))
	defer server.Close()

	/* one progress report lands before the stream dies */
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE neurondb_flow.task_queue").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record := &db.TaskQueueRecord{WorkflowRunID: uuid.New(), TaskOrder: 1, URL: server.URL}
	_, _, err := driver.Run(context.Background(), record)
	if !errors.Is(err, ErrExitedTask) {
		t.Errorf("expected ErrExitedTask, got %v", err)
	}
}

func TestDriverRunBadStatus(t *testing.T) {
	driver, _ := newMockDriver(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such task", http.StatusNotFound)
	}))
	defer server.Close()

	record := &db.TaskQueueRecord{WorkflowRunID: uuid.New(), TaskOrder: 1, URL: server.URL}
	if _, _, err := driver.Run(context.Background(), record); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}
