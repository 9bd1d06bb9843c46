/*-------------------------------------------------------------------------
 *
 * handlers_test.go
 *    API handler tests for NeuronFlow
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/neurondb/NeuronFlow/internal/db"
)

func newMockHandlers(t *testing.T) (*Handlers, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewHandlers(db.NewQueries(sqlx.NewDb(mockDB, "sqlmock"))), mock
}

func TestGetWorkflowRunInvalidID(t *testing.T) {
	handlers, _ := newMockHandlers(t)

	request := httptest.NewRequest(http.MethodGet, "/api/v1/workflow-runs/not-a-uuid", nil)
	request = mux.SetURLVars(request, map[string]string{"id": "not-a-uuid"})
	recorder := httptest.NewRecorder()

	handlers.GetWorkflowRun(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestRetryTaskBadBody(t *testing.T) {
	handlers, _ := newMockHandlers(t)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/task-queue/retry", strings.NewReader("{"))
	recorder := httptest.NewRecorder()

	handlers.RetryTask(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestListQueuedJobs(t *testing.T) {
	handlers, mock := newMockHandlers(t)

	mock.ExpectQuery("FROM neurondb_flow.v_queued_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "next_run"}).
			AddRow(3, time.Now().UTC()))

	request := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/queued", nil)
	recorder := httptest.NewRecorder()

	handlers.ListQueuedJobs(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateJobRejectsUnknownType(t *testing.T) {
	handlers, _ := newMockHandlers(t)

	body := `{"workflow_id":1,"maintainer":"ops@example.com","job_type":"Cron"}`
	request := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	recorder := httptest.NewRecorder()

	handlers.CreateJob(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestFromStoreErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{db.ErrNotFound, http.StatusNotFound},
		{db.ErrInvalidTransition, http.StatusBadRequest},
		{db.ErrWorkflowDeprecated, http.StatusBadRequest},
		{db.ErrBlankMessage, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		apiErr := FromStoreError(tc.err, "operation failed", "req-1")
		if apiErr.Code != tc.code {
			t.Errorf("FromStoreError(%v) code = %d, want %d", tc.err, apiErr.Code, tc.code)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if captured == "" {
		t.Error("expected a generated request id")
	}
	if recorder.Header().Get("X-Request-ID") != captured {
		t.Error("request id should be echoed in the response header")
	}

	/* A provided request id is preserved */
	request = httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-ID", "req-42")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if captured != "req-42" {
		t.Errorf("expected preserved request id, got %s", captured)
	}
}

func TestActingPrincipalMiddleware(t *testing.T) {
	var principal string
	handler := ActingPrincipalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = db.ActingPrincipal(r.Context())
	}))

	request := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	request.Header.Set("X-Acting-Principal", "svc-portal")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	if principal != "svc-portal" {
		t.Errorf("expected acting principal svc-portal, got %q", principal)
	}

	/* absent header leaves the context empty */
	request = httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	handler.ServeHTTP(httptest.NewRecorder(), request)
	if principal != "" {
		t.Errorf("expected empty acting principal, got %q", principal)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	request := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	request = request.WithContext(context.Background())
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 after panic, got %d", recorder.Code)
	}
}
