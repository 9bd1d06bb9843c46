/*-------------------------------------------------------------------------
 *
 * handlers.go
 *    API handlers for NeuronFlow
 *
 * Provides HTTP handlers for workflow templates, the task catalog and
 * task services.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/api/handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/neurondb/NeuronFlow/internal/db"
)

type Handlers struct {
	queries *db.Queries
}

func NewHandlers(queries *db.Queries) *Handlers {
	return &Handlers{queries: queries}
}

/* pathID parses a numeric id path variable */
func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

/* Workflows */

type CreateWorkflowRequest struct {
	Name  string                   `json:"name"`
	Tasks []db.WorkflowTaskRequest `json:"tasks"`
}

type DeprecateWorkflowRequest struct {
	WorkflowID  int64  `json:"workflow_id"`
	NewWorkflow *int64 `json:"new_workflow"`
}

type WorkflowResponse struct {
	WorkflowID   int64              `json:"workflow_id"`
	Name         string             `json:"name"`
	IsDeprecated bool               `json:"is_deprecated"`
	NewWorkflow  *int64             `json:"new_workflow"`
	Tasks        db.WorkflowTaskSet `json:"tasks"`
}

func toWorkflowResponse(w *db.Workflow) WorkflowResponse {
	return WorkflowResponse{
		WorkflowID:   w.WorkflowID,
		Name:         w.Name,
		IsDeprecated: w.IsDeprecated,
		NewWorkflow:  w.NewWorkflow,
		Tasks:        w.Tasks,
	}
}

func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid request body", err, requestID))
		return
	}

	workflow, err := h.queries.CreateWorkflow(r.Context(), req.Name, req.Tasks)
	if err != nil {
		respondError(w, FromStoreError(err, "workflow creation failed", requestID))
		return
	}
	respondJSON(w, http.StatusCreated, toWorkflowResponse(workflow))
}

func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid workflow ID", err, requestID))
		return
	}

	workflow, err := h.queries.ReadWorkflow(r.Context(), id)
	if err != nil {
		respondError(w, FromStoreError(err, "workflow lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toWorkflowResponse(workflow))
}

func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	workflows, err := h.queries.ListWorkflows(r.Context())
	if err != nil {
		respondError(w, FromStoreError(err, "workflow listing failed", requestID))
		return
	}

	responses := make([]WorkflowResponse, 0, len(workflows))
	for i := range workflows {
		responses = append(responses, toWorkflowResponse(&workflows[i]))
	}
	respondJSON(w, http.StatusOK, responses)
}

func (h *Handlers) DeprecateWorkflow(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req DeprecateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid request body", err, requestID))
		return
	}

	if err := h.queries.DeprecateWorkflow(r.Context(), req.WorkflowID, req.NewWorkflow); err != nil {
		respondError(w, FromStoreError(err, "workflow deprecation failed", requestID))
		return
	}

	workflow, err := h.queries.ReadWorkflow(r.Context(), req.WorkflowID)
	if err != nil {
		respondError(w, FromStoreError(err, "workflow lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toWorkflowResponse(workflow))
}

/* Task services */

type CreateTaskServiceRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

type TaskServiceResponse struct {
	ServiceID int64  `json:"service_id"`
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
}

func (h *Handlers) CreateTaskService(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req CreateTaskServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid request body", err, requestID))
		return
	}

	service, err := h.queries.CreateTaskService(r.Context(), req.Name, req.BaseURL)
	if err != nil {
		respondError(w, FromStoreError(err, "task service creation failed", requestID))
		return
	}
	respondJSON(w, http.StatusCreated, TaskServiceResponse{
		ServiceID: service.ServiceID,
		Name:      service.Name,
		BaseURL:   service.BaseURL,
	})
}

func (h *Handlers) ListTaskServices(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	services, err := h.queries.ListTaskServices(r.Context())
	if err != nil {
		respondError(w, FromStoreError(err, "task service listing failed", requestID))
		return
	}

	responses := make([]TaskServiceResponse, 0, len(services))
	for _, service := range services {
		responses = append(responses, TaskServiceResponse{
			ServiceID: service.ServiceID,
			Name:      service.Name,
			BaseURL:   service.BaseURL,
		})
	}
	respondJSON(w, http.StatusOK, responses)
}

/* Tasks */

type TaskRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	TaskServiceID int64  `json:"task_service_id"`
	URL           string `json:"url"`
}

type TaskResponse struct {
	TaskID          int64  `json:"task_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	TaskServiceID   int64  `json:"task_service_id"`
	TaskServiceName string `json:"task_service_name"`
	URL             string `json:"url"`
	EffectiveURL    string `json:"effective_url"`
}

func toTaskResponse(t *db.Task) TaskResponse {
	return TaskResponse{
		TaskID:          t.TaskID,
		Name:            t.Name,
		Description:     t.Description,
		TaskServiceID:   t.TaskServiceID,
		TaskServiceName: t.TaskServiceName,
		URL:             t.URL,
		EffectiveURL:    t.EffectiveURL,
	}
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid request body", err, requestID))
		return
	}

	task, err := h.queries.CreateTask(r.Context(), req.Name, req.Description, req.TaskServiceID, req.URL)
	if err != nil {
		respondError(w, FromStoreError(err, "task creation failed", requestID))
		return
	}
	respondJSON(w, http.StatusCreated, toTaskResponse(task))
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid task ID", err, requestID))
		return
	}

	task, err := h.queries.ReadTask(r.Context(), id)
	if err != nil {
		respondError(w, FromStoreError(err, "task lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	tasks, err := h.queries.ListTasks(r.Context())
	if err != nil {
		respondError(w, FromStoreError(err, "task listing failed", requestID))
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for i := range tasks {
		responses = append(responses, toTaskResponse(&tasks[i]))
	}
	respondJSON(w, http.StatusOK, responses)
}

func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid task ID", err, requestID))
		return
	}

	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid request body", err, requestID))
		return
	}

	task, err := h.queries.UpdateTask(r.Context(), id, req.Name, req.Description, req.TaskServiceID, req.URL)
	if err != nil {
		respondError(w, FromStoreError(err, "task update failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toTaskResponse(task))
}
