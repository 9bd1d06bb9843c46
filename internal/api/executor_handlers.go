/*-------------------------------------------------------------------------
 *
 * executor_handlers.go
 *    Executor API handlers for NeuronFlow
 *
 * Exposes the executor registry: listing, graceful shutdown, forced
 * cancel and the ghost reaper.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/api/executor_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"net/http"
	"time"

	"github.com/neurondb/NeuronFlow/internal/db"
)

type ExecutorResponse struct {
	ExecutorID       int64             `json:"executor_id"`
	Pid              int32             `json:"pid"`
	Username         string            `json:"username"`
	ApplicationName  string            `json:"application_name"`
	ClientAddr       *string           `json:"client_addr"`
	ClientPort       *int32            `json:"client_port"`
	ExecStart        time.Time         `json:"exec_start"`
	ExecEnd          *time.Time        `json:"exec_end"`
	Status           db.ExecutorStatus `json:"status"`
	ErrorMessage     *string           `json:"error_message"`
	SessionActive    *bool             `json:"session_active"`
	WorkflowRunCount *int64            `json:"workflow_run_count"`
}

func toExecutorResponse(e *db.Executor) ExecutorResponse {
	return ExecutorResponse{
		ExecutorID:       e.ExecutorID,
		Pid:              e.Pid,
		Username:         e.Username,
		ApplicationName:  e.ApplicationName,
		ClientAddr:       e.ClientAddr,
		ClientPort:       e.ClientPort,
		ExecStart:        e.ExecStart,
		ExecEnd:          e.ExecEnd,
		Status:           e.Status,
		ErrorMessage:     e.ErrorMessage,
		SessionActive:    e.SessionActive,
		WorkflowRunCount: e.WorkflowRunCount,
	}
}

func (h *Handlers) ListActiveExecutors(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	executors, err := h.queries.ListActiveExecutors(r.Context())
	if err != nil {
		respondError(w, FromStoreError(err, "executor listing failed", requestID))
		return
	}

	responses := make([]ExecutorResponse, 0, len(executors))
	for i := range executors {
		responses = append(responses, toExecutorResponse(&executors[i]))
	}
	respondJSON(w, http.StatusOK, responses)
}

/* executorOperation runs one registry operation and responds with the
 * updated executor */
func (h *Handlers) executorOperation(w http.ResponseWriter, r *http.Request, operation string, fn func(int64) error) {
	requestID := GetRequestID(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid executor ID", err, requestID))
		return
	}

	if err := fn(id); err != nil {
		respondError(w, FromStoreError(err, operation+" failed", requestID))
		return
	}

	executor, err := h.queries.ReadExecutor(r.Context(), id)
	if err != nil {
		respondError(w, FromStoreError(err, "executor lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toExecutorResponse(executor))
}

func (h *Handlers) ShutdownExecutor(w http.ResponseWriter, r *http.Request) {
	h.executorOperation(w, r, "executor shutdown", func(id int64) error {
		return h.queries.ShutdownExecutor(r.Context(), id)
	})
}

func (h *Handlers) CancelExecutor(w http.ResponseWriter, r *http.Request) {
	h.executorOperation(w, r, "executor cancel", func(id int64) error {
		return h.queries.CancelExecutor(r.Context(), id)
	})
}

func (h *Handlers) CleanExecutors(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if err := h.queries.CleanExecutors(r.Context()); err != nil {
		respondError(w, FromStoreError(err, "executor clean failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Successfully cleaned executors"})
}
