/*-------------------------------------------------------------------------
 *
 * router.go
 *    HTTP router for NeuronFlow API
 *
 * Wires the API surface: workflow templates, task catalog, jobs,
 * workflow runs, task queue operations, executors, the progress
 * websocket, health and metrics.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/api/router.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

/* NewRouter builds the API router */
func NewRouter(database *db.DB, handlers *Handlers, progressHub *ProgressHub) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(ActingPrincipalMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(RecoveryMiddleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.HealthCheck(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	/* Workflow templates */
	v1.HandleFunc("/workflows", handlers.ListWorkflows).Methods(http.MethodGet)
	v1.HandleFunc("/workflows", handlers.CreateWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/deprecate", handlers.DeprecateWorkflow).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{id:[0-9]+}", handlers.GetWorkflow).Methods(http.MethodGet)

	/* Task catalog */
	v1.HandleFunc("/task-services", handlers.ListTaskServices).Methods(http.MethodGet)
	v1.HandleFunc("/task-services", handlers.CreateTaskService).Methods(http.MethodPost)
	v1.HandleFunc("/tasks", handlers.ListTasks).Methods(http.MethodGet)
	v1.HandleFunc("/tasks", handlers.CreateTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id:[0-9]+}", handlers.GetTask).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id:[0-9]+}", handlers.UpdateTask).Methods(http.MethodPut)

	/* Jobs */
	v1.HandleFunc("/jobs", handlers.ListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", handlers.CreateJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/queued", handlers.ListQueuedJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id:[0-9]+}", handlers.GetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id:[0-9]+}/pause", handlers.PauseJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id:[0-9]+}/resume", handlers.ResumeJob).Methods(http.MethodPost)

	/* Workflow runs */
	v1.HandleFunc("/workflow-runs", handlers.ListWorkflowRuns).Methods(http.MethodGet)
	v1.HandleFunc("/workflow-runs/init/{workflow_id:[0-9]+}", handlers.InitializeWorkflowRun).Methods(http.MethodPost)
	v1.HandleFunc("/workflow-runs/{id}", handlers.GetWorkflowRun).Methods(http.MethodGet)
	v1.HandleFunc("/workflow-runs/{id}/schedule", handlers.ScheduleWorkflowRun).Methods(http.MethodPost)
	v1.HandleFunc("/workflow-runs/{id}/cancel", handlers.CancelWorkflowRun).Methods(http.MethodPost)
	v1.HandleFunc("/workflow-runs/{id}/restart", handlers.RestartWorkflowRun).Methods(http.MethodPost)
	v1.HandleFunc("/workflow-runs/{id}/move/start", handlers.StartWorkflowRunMove).Methods(http.MethodPost)
	v1.HandleFunc("/workflow-runs/{id}/move/complete", handlers.CompleteWorkflowRunMove).Methods(http.MethodPost)

	/* Task queue operations */
	v1.HandleFunc("/task-queue/retry", handlers.RetryTask).Methods(http.MethodPost)
	v1.HandleFunc("/task-queue/complete", handlers.CompleteTask).Methods(http.MethodPost)

	/* Executors */
	v1.HandleFunc("/executors", handlers.ListActiveExecutors).Methods(http.MethodGet)
	v1.HandleFunc("/executors/clean", handlers.CleanExecutors).Methods(http.MethodPost)
	v1.HandleFunc("/executors/{id:[0-9]+}/shutdown", handlers.ShutdownExecutor).Methods(http.MethodPost)
	v1.HandleFunc("/executors/{id:[0-9]+}/cancel", handlers.CancelExecutor).Methods(http.MethodPost)

	/* Progress stream */
	router.HandleFunc("/ws/progress", progressHub.HandleProgressSocket).Methods(http.MethodGet)

	return router
}
