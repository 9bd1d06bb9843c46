/*-------------------------------------------------------------------------
 *
 * workflow_run_handlers.go
 *    Workflow run and task queue API handlers for NeuronFlow
 *
 * Control operations on workflow runs (initialize, schedule, cancel,
 * restart, move) and the manual task queue operations (retry, complete).
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/api/workflow_run_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/neurondb/NeuronFlow/internal/db"
)

type WorkflowRunResponse struct {
	WorkflowRunID uuid.UUID             `json:"workflow_run_id"`
	WorkflowID    int64                 `json:"workflow_id"`
	Status        db.WorkflowRunStatus  `json:"status"`
	ExecutorID    *int64                `json:"executor_id"`
	Progress      *int16                `json:"progress"`
	Tasks         db.WorkflowRunTaskSet `json:"tasks"`
}

func toWorkflowRunResponse(run *db.WorkflowRun) WorkflowRunResponse {
	return WorkflowRunResponse{
		WorkflowRunID: run.WorkflowRunID,
		WorkflowID:    run.WorkflowID,
		Status:        run.Status,
		ExecutorID:    run.ExecutorID,
		Progress:      run.Progress,
		Tasks:         run.Tasks,
	}
}

/* pathRunID parses the workflow run id path variable */
func pathRunID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func (h *Handlers) InitializeWorkflowRun(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	workflowID, err := pathID(r, "workflow_id")
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid workflow ID", err, requestID))
		return
	}

	run, err := h.queries.InitializeWorkflowRun(r.Context(), workflowID)
	if err != nil {
		respondError(w, FromStoreError(err, "workflow run initialization failed", requestID))
		return
	}
	respondJSON(w, http.StatusCreated, toWorkflowRunResponse(run))
}

func (h *Handlers) GetWorkflowRun(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	runID, err := pathRunID(r)
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid workflow run ID", err, requestID))
		return
	}

	run, err := h.queries.ReadWorkflowRun(r.Context(), runID)
	if err != nil {
		respondError(w, FromStoreError(err, "workflow run lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toWorkflowRunResponse(run))
}

func (h *Handlers) ListWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	runs, err := h.queries.ListWorkflowRuns(r.Context())
	if err != nil {
		respondError(w, FromStoreError(err, "workflow run listing failed", requestID))
		return
	}

	responses := make([]WorkflowRunResponse, 0, len(runs))
	for i := range runs {
		responses = append(responses, toWorkflowRunResponse(&runs[i]))
	}
	respondJSON(w, http.StatusOK, responses)
}

/* runOperation runs one control operation and responds with the updated run */
func (h *Handlers) runOperation(w http.ResponseWriter, r *http.Request, operation string, fn func(uuid.UUID) error) {
	requestID := GetRequestID(r.Context())

	runID, err := pathRunID(r)
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid workflow run ID", err, requestID))
		return
	}

	if err := fn(runID); err != nil {
		respondError(w, FromStoreError(err, operation+" failed", requestID))
		return
	}

	run, err := h.queries.ReadWorkflowRun(r.Context(), runID)
	if err != nil {
		respondError(w, FromStoreError(err, "workflow run lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toWorkflowRunResponse(run))
}

func (h *Handlers) ScheduleWorkflowRun(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, "workflow run scheduling", func(runID uuid.UUID) error {
		return h.queries.ScheduleWorkflowRun(r.Context(), runID)
	})
}

func (h *Handlers) CancelWorkflowRun(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, "workflow run cancellation", func(runID uuid.UUID) error {
		return h.queries.CancelWorkflowRun(r.Context(), runID)
	})
}

func (h *Handlers) RestartWorkflowRun(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, "workflow run restart", func(runID uuid.UUID) error {
		return h.queries.RestartWorkflowRun(r.Context(), runID)
	})
}

func (h *Handlers) StartWorkflowRunMove(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, "workflow run move start", func(runID uuid.UUID) error {
		return h.queries.StartWorkflowRunMove(r.Context(), runID)
	})
}

func (h *Handlers) CompleteWorkflowRunMove(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, "workflow run move completion", func(runID uuid.UUID) error {
		return h.queries.CompleteWorkflowRunMove(r.Context(), runID)
	})
}

/* Task queue operations */

type TaskQueueRequest struct {
	WorkflowRunID uuid.UUID `json:"workflow_run_id"`
	TaskOrder     int32     `json:"task_order"`
}

/* taskQueueOperation runs one manual queue operation and responds with
 * the updated run */
func (h *Handlers) taskQueueOperation(w http.ResponseWriter, r *http.Request, operation string, fn func(TaskQueueRequest) error) {
	requestID := GetRequestID(r.Context())

	var req TaskQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid request body", err, requestID))
		return
	}

	if err := fn(req); err != nil {
		respondError(w, FromStoreError(err, operation+" failed", requestID))
		return
	}

	run, err := h.queries.ReadWorkflowRun(r.Context(), req.WorkflowRunID)
	if err != nil {
		respondError(w, FromStoreError(err, "workflow run lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toWorkflowRunResponse(run))
}

func (h *Handlers) RetryTask(w http.ResponseWriter, r *http.Request) {
	h.taskQueueOperation(w, r, "task retry", func(req TaskQueueRequest) error {
		return h.queries.RetryTask(r.Context(), req.WorkflowRunID, req.TaskOrder)
	})
}

func (h *Handlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	h.taskQueueOperation(w, r, "task completion", func(req TaskQueueRequest) error {
		return h.queries.CompleteTask(r.Context(), req.WorkflowRunID, req.TaskOrder)
	})
}
