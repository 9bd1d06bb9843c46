/*-------------------------------------------------------------------------
 *
 * job_handlers.go
 *    Job API handlers for NeuronFlow
 *
 * Creates interval and scheduled jobs and exposes the job views,
 * including the due-set the scheduler works from.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/api/job_handlers.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/neurondb/NeuronFlow/internal/db"
)

type CreateJobRequest struct {
	WorkflowID      int64          `json:"workflow_id"`
	Maintainer      string         `json:"maintainer"`
	JobType         db.JobType     `json:"job_type"`
	IntervalSeconds *float64       `json:"interval_seconds,omitempty"`
	Schedule        db.JobSchedule `json:"schedule,omitempty"`
	NextRun         *time.Time     `json:"next_run,omitempty"`
}

type JobResponse struct {
	JobID                int64                 `json:"job_id"`
	WorkflowID           int64                 `json:"workflow_id"`
	WorkflowName         string                `json:"workflow_name"`
	JobType              db.JobType            `json:"job_type"`
	Maintainer           string                `json:"maintainer"`
	IntervalSeconds      *float64              `json:"interval_seconds,omitempty"`
	Schedule             db.JobSchedule        `json:"schedule,omitempty"`
	IsPaused             bool                  `json:"is_paused"`
	NextRun              time.Time             `json:"next_run"`
	CurrentWorkflowRunID *uuid.UUID            `json:"current_workflow_run_id"`
	WorkflowRunStatus    *db.WorkflowRunStatus `json:"workflow_run_status"`
	Progress             *int16                `json:"progress"`
	ExecutorID           *int64                `json:"executor_id"`
}

func toJobResponse(j *db.Job) JobResponse {
	return JobResponse{
		JobID:                j.JobID,
		WorkflowID:           j.WorkflowID,
		WorkflowName:         j.WorkflowName,
		JobType:              j.JobType,
		Maintainer:           j.Maintainer,
		IntervalSeconds:      j.JobIntervalSeconds,
		Schedule:             j.JobSchedule,
		IsPaused:             j.IsPaused,
		NextRun:              j.NextRun,
		CurrentWorkflowRunID: j.CurrentWorkflowRunID,
		WorkflowRunStatus:    j.WorkflowRunStatus,
		Progress:             j.Progress,
		ExecutorID:           j.ExecutorID,
	}
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid request body", err, requestID))
		return
	}

	var job *db.Job
	var err error
	switch req.JobType {
	case db.JobTypeInterval:
		if req.IntervalSeconds == nil {
			respondError(w, NewError(http.StatusBadRequest, "interval jobs require interval_seconds", nil, requestID))
			return
		}
		interval := time.Duration(*req.IntervalSeconds * float64(time.Second))
		job, err = h.queries.CreateIntervalJob(r.Context(), req.WorkflowID, req.Maintainer, interval, req.NextRun)
	case db.JobTypeScheduled:
		job, err = h.queries.CreateScheduledJob(r.Context(), req.WorkflowID, req.Maintainer, req.Schedule)
	default:
		respondError(w, NewError(http.StatusBadRequest, "job_type must be Interval or Scheduled", nil, requestID))
		return
	}
	if err != nil {
		respondError(w, FromStoreError(err, "job creation failed", requestID))
		return
	}
	respondJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid job ID", err, requestID))
		return
	}

	job, err := h.queries.ReadJob(r.Context(), id)
	if err != nil {
		respondError(w, FromStoreError(err, "job lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	jobs, err := h.queries.ListJobs(r.Context())
	if err != nil {
		respondError(w, FromStoreError(err, "job listing failed", requestID))
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		responses = append(responses, toJobResponse(&jobs[i]))
	}
	respondJSON(w, http.StatusOK, responses)
}

func (h *Handlers) ListQueuedJobs(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	jobs, err := h.queries.ReadQueuedJobs(r.Context())
	if err != nil {
		respondError(w, FromStoreError(err, "queued job listing failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (h *Handlers) setJobPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	requestID := GetRequestID(r.Context())

	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, NewError(http.StatusBadRequest, "invalid job ID", err, requestID))
		return
	}

	if err := h.queries.SetJobPaused(r.Context(), id, paused); err != nil {
		respondError(w, FromStoreError(err, "job pause update failed", requestID))
		return
	}

	job, err := h.queries.ReadJob(r.Context(), id)
	if err != nil {
		respondError(w, FromStoreError(err, "job lookup failed", requestID))
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handlers) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.setJobPaused(w, r, true)
}

func (h *Handlers) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.setJobPaused(w, r, false)
}
