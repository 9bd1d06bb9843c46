/*-------------------------------------------------------------------------
 *
 * models.go
 *    Database models for NeuronFlow
 *
 * Defines data structures for workflows, tasks, task services, jobs,
 * workflow runs, task queue rows and executors, plus the enum domains
 * that drive the run and task state machines.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

/* WorkflowRunStatus mirrors the workflow_run_status enum */
type WorkflowRunStatus string

const (
	RunStatusWaiting   WorkflowRunStatus = "Waiting"
	RunStatusScheduled WorkflowRunStatus = "Scheduled"
	RunStatusRunning   WorkflowRunStatus = "Running"
	RunStatusPaused    WorkflowRunStatus = "Paused"
	RunStatusFailed    WorkflowRunStatus = "Failed"
	RunStatusComplete  WorkflowRunStatus = "Complete"
	RunStatusCanceled  WorkflowRunStatus = "Canceled"
)

/* Terminal reports whether a run status settles the owning job. Scheduled
 * and Running are the only statuses the scheduler treats as in-flight. */
func (s WorkflowRunStatus) Terminal() bool {
	return s != RunStatusScheduled && s != RunStatusRunning
}

/* TaskStatus mirrors the task_status enum */
type TaskStatus string

const (
	TaskStatusWaiting    TaskStatus = "Waiting"
	TaskStatusRunning    TaskStatus = "Running"
	TaskStatusPaused     TaskStatus = "Paused"
	TaskStatusFailed     TaskStatus = "Failed"
	TaskStatusRuleBroken TaskStatus = "Rule Broken"
	TaskStatusComplete   TaskStatus = "Complete"
	TaskStatusCanceled   TaskStatus = "Canceled"
)

/* ExecutorStatus mirrors the executor_status enum */
type ExecutorStatus string

const (
	ExecutorStatusActive   ExecutorStatus = "Active"
	ExecutorStatusCanceled ExecutorStatus = "Canceled"
	ExecutorStatusShutdown ExecutorStatus = "Shutdown"
)

/* JobType mirrors the job_type enum */
type JobType string

const (
	JobTypeInterval  JobType = "Interval"
	JobTypeScheduled JobType = "Scheduled"
)

/* TaskExecutorCanceledOutput is stamped on a Running task when the owning
 * executor is closed or reaped */
const TaskExecutorCanceledOutput = "Task executor canceled workflow run"

/* TaskRule is a named boolean finding recorded against a running task. Any
 * rule with Failed=true forces the task's terminal status to Rule Broken. */
type TaskRule struct {
	Name    string  `json:"name"`
	Failed  bool    `json:"failed"`
	Message *string `json:"message,omitempty"`
}

/* Validate checks rule validity: non-blank name */
func (r TaskRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("task rule name cannot be blank: %w", ErrInvalidRule)
	}
	return nil
}

/* TaskRules is a jsonb-backed rules array. Valid when nil or non-empty with
 * every element valid. */
type TaskRules []TaskRule

func (r TaskRules) Validate() error {
	if r == nil {
		return nil
	}
	if len(r) == 0 {
		return fmt.Errorf("task rules array cannot be empty: %w", ErrInvalidRule)
	}
	for _, rule := range r {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r TaskRules) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func (r *TaskRules) Scan(src interface{}) error {
	if src == nil {
		*r = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	}
	return fmt.Errorf("cannot scan %T into TaskRules", src)
}

/* HasFailed reports whether any rule in the array has failed */
func (r TaskRules) HasFailed() bool {
	for _, rule := range r {
		if rule.Failed {
			return true
		}
	}
	return false
}

/* JSONBParams is an opaque jsonb parameter blob */
type JSONBParams map[string]interface{}

func (p JSONBParams) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func (p *JSONBParams) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("cannot scan %T into JSONBParams", src)
}

/* ScheduleEntry is one weekly slot of a Scheduled job. DayOfWeek uses
 * Monday=1 through Sunday=7; TimeOfDay is an HH:MM:SS wall clock in UTC. */
type ScheduleEntry struct {
	DayOfWeek int16  `json:"day_of_week"`
	TimeOfDay string `json:"time_of_day"`
}

/* JobSchedule is the jsonb-backed weekly schedule of a Scheduled job */
type JobSchedule []ScheduleEntry

func (s JobSchedule) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func (s *JobSchedule) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return fmt.Errorf("cannot scan %T into JobSchedule", src)
}

/* Validate checks the schedule: non-empty, all days in 1..7, parseable
 * times, no duplicate entries */
func (s JobSchedule) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("job schedule cannot be empty: %w", ErrInvalidSchedule)
	}
	seen := make(map[string]struct{}, len(s))
	for _, entry := range s {
		if entry.DayOfWeek < 1 || entry.DayOfWeek > 7 {
			return fmt.Errorf("job schedule day_of_week %d out of range 1..7: %w", entry.DayOfWeek, ErrInvalidSchedule)
		}
		if _, err := time.Parse("15:04:05", entry.TimeOfDay); err != nil {
			return fmt.Errorf("job schedule time_of_day %q is not HH:MM:SS: %w", entry.TimeOfDay, ErrInvalidSchedule)
		}
		key := fmt.Sprintf("%d@%s", entry.DayOfWeek, entry.TimeOfDay)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("job schedule has duplicate entry %s: %w", key, ErrInvalidSchedule)
		}
		seen[key] = struct{}{}
	}
	return nil
}

/* NextRun returns the earliest weekly slot strictly after now, in UTC */
func (s JobSchedule) NextRun(now time.Time) time.Time {
	now = now.UTC()
	var best time.Time
	for _, entry := range s {
		tod, _ := time.Parse("15:04:05", entry.TimeOfDay)
		/* Go weekday: Sunday=0; schedule weekday: Monday=1..Sunday=7 */
		nowDay := int16(now.Weekday())
		if nowDay == 0 {
			nowDay = 7
		}
		dayDelta := int(entry.DayOfWeek-nowDay+7) % 7
		candidate := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC).
			AddDate(0, 0, dayDelta)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best
}

type Workflow struct {
	WorkflowID   int64           `db:"workflow_id"`
	Name         string          `db:"name"`
	IsDeprecated bool            `db:"is_deprecated"`
	NewWorkflow  *int64          `db:"new_workflow"`
	Tasks        WorkflowTaskSet `db:"tasks"`
}

/* WorkflowTask is one template row as exposed by v_workflows */
type WorkflowTask struct {
	TaskOrder   int32       `json:"task_order" db:"task_order"`
	TaskID      int64       `json:"task_id" db:"task_id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	Parameters  JSONBParams `json:"parameters" db:"parameters"`
}

/* WorkflowTaskSet scans the jsonb tasks array aggregated by v_workflows */
type WorkflowTaskSet []WorkflowTask

func (t *WorkflowTaskSet) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	}
	return fmt.Errorf("cannot scan %T into WorkflowTaskSet", src)
}

type TaskService struct {
	ServiceID int64  `db:"service_id"`
	Name      string `db:"name"`
	BaseURL   string `db:"base_url"`
}

type Task struct {
	TaskID          int64  `db:"task_id"`
	Name            string `db:"name"`
	Description     string `db:"description"`
	TaskServiceID   int64  `db:"task_service_id"`
	TaskServiceName string `db:"task_service_name"`
	URL             string `db:"url"`
	EffectiveURL    string `db:"effective_url"`
}

type Job struct {
	JobID                int64              `db:"job_id"`
	WorkflowID           int64              `db:"workflow_id"`
	WorkflowName         string             `db:"workflow_name"`
	JobType              JobType            `db:"job_type"`
	Maintainer           string             `db:"maintainer"`
	JobIntervalSeconds   *float64           `db:"job_interval_seconds"`
	JobSchedule          JobSchedule        `db:"job_schedule"`
	IsPaused             bool               `db:"is_paused"`
	NextRun              time.Time          `db:"next_run"`
	CurrentWorkflowRunID *uuid.UUID         `db:"current_workflow_run_id"`
	WorkflowRunStatus    *WorkflowRunStatus `db:"workflow_run_status"`
	Progress             *int16             `db:"progress"`
	ExecutorID           *int64             `db:"executor_id"`
}

/* JobInterval returns the interval of an Interval job as a duration */
func (j *Job) JobInterval() time.Duration {
	if j.JobIntervalSeconds == nil {
		return 0
	}
	return time.Duration(*j.JobIntervalSeconds * float64(time.Second))
}

/* JobMin is the minimum job detail the scheduler keeps in its due-set */
type JobMin struct {
	JobID   int64     `db:"job_id"`
	NextRun time.Time `db:"next_run"`
}

type WorkflowRun struct {
	WorkflowRunID uuid.UUID          `db:"workflow_run_id"`
	WorkflowID    int64              `db:"workflow_id"`
	Status        WorkflowRunStatus  `db:"status"`
	ExecutorID    *int64             `db:"executor_id"`
	Progress      *int16             `db:"progress"`
	Tasks         WorkflowRunTaskSet `db:"tasks"`
}

/* WorkflowRunTask is one queue row as exposed by v_workflow_runs */
type WorkflowRunTask struct {
	TaskOrder   int32       `json:"task_order"`
	TaskID      int64       `json:"task_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      TaskStatus  `json:"status"`
	Parameters  JSONBParams `json:"parameters"`
	Output      *string     `json:"output"`
	Rules       TaskRules   `json:"rules"`
	TaskStart   *time.Time  `json:"task_start"`
	TaskEnd     *time.Time  `json:"task_end"`
	Progress    *int16      `json:"progress"`
}

/* WorkflowRunTaskSet scans the jsonb tasks array aggregated by v_workflow_runs */
type WorkflowRunTaskSet []WorkflowRunTask

func (t *WorkflowRunTaskSet) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	}
	return fmt.Errorf("cannot scan %T into WorkflowRunTaskSet", src)
}

/* ExecutorWorkflowRun is a lease result from the scheduled-run queue.
 * IsValid means no task of the run sits outside Waiting or Complete. */
type ExecutorWorkflowRun struct {
	WorkflowRunID uuid.UUID         `db:"workflow_run_id"`
	Status        WorkflowRunStatus `db:"status"`
	IsValid       bool              `db:"is_valid"`
}

/* TaskQueueRecord is the record an executor needs to invoke the remote
 * task service for one queue row */
type TaskQueueRecord struct {
	WorkflowRunID uuid.UUID   `db:"workflow_run_id" json:"workflow_run_id"`
	TaskOrder     int32       `db:"task_order" json:"task_order"`
	TaskID        int64       `db:"task_id" json:"task_id"`
	Status        TaskStatus  `db:"status" json:"status"`
	Parameters    JSONBParams `db:"parameters" json:"parameters"`
	URL           string      `db:"url" json:"url"`
}

type Executor struct {
	ExecutorID       int64          `db:"executor_id"`
	Pid              int32          `db:"pid"`
	Username         string         `db:"username"`
	ApplicationName  string         `db:"application_name"`
	ClientAddr       *string        `db:"client_addr"`
	ClientPort       *int32         `db:"client_port"`
	ExecStart        time.Time      `db:"exec_start"`
	ExecEnd          *time.Time     `db:"exec_end"`
	Status           ExecutorStatus `db:"status"`
	ErrorMessage     *string        `db:"error_message"`
	SessionActive    *bool          `db:"session_active"`
	WorkflowRunCount *int64         `db:"wr_count"`
}
