/*-------------------------------------------------------------------------
 *
 * job_queries.go
 *    Job scheduling queries for NeuronFlow
 *
 * Creates interval and weekly-scheduled jobs, materializes the due-set,
 * fires due jobs (initialize + schedule a run and advance next_run in one
 * transaction) and settles jobs once their run terminates.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

const readJobQuery = `
	SELECT j.job_id, j.workflow_id, j.workflow_name, j.job_type, j.maintainer,
	       j.job_interval_seconds, j.job_schedule, j.is_paused, j.next_run,
	       j.current_workflow_run_id, j.workflow_run_status, j.progress, j.executor_id
	FROM neurondb_flow.v_jobs j
	WHERE j.job_id = $1`

const listJobsQuery = `
	SELECT j.job_id, j.workflow_id, j.workflow_name, j.job_type, j.maintainer,
	       j.job_interval_seconds, j.job_schedule, j.is_paused, j.next_run,
	       j.current_workflow_run_id, j.workflow_run_status, j.progress, j.executor_id
	FROM neurondb_flow.v_jobs j
	ORDER BY j.job_id`

/* CreateIntervalJob creates a job firing every interval. nextRun defaults
 * to now + interval when unset, and must be in the future. */
func (q *Queries) CreateIntervalJob(ctx context.Context, workflowID int64, maintainer string, interval time.Duration, nextRun *time.Time) (*Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("job interval must be positive: %w", ErrInvalidSchedule)
	}
	now := time.Now().UTC()
	run := now.Add(interval)
	if nextRun != nil {
		run = nextRun.UTC()
	}
	if !run.After(now) {
		return nil, fmt.Errorf("job next_run must be in the future: %w", ErrInvalidSchedule)
	}

	var jobID int64
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &jobID, `
			INSERT INTO neurondb_flow.jobs (workflow_id, job_type, maintainer, job_interval, next_run)
			VALUES ($1, 'Interval', $2, make_interval(secs => $3), $4)
			RETURNING job_id`,
			workflowID, maintainer, interval.Seconds(), run); err != nil {
			return fmt.Errorf("create interval job: %w", err)
		}
		return notify(ctx, tx, TopicJobs, "")
	})
	if err != nil {
		return nil, err
	}
	return q.ReadJob(ctx, jobID)
}

/* CreateScheduledJob creates a job firing on a weekly schedule. next_run
 * starts at the earliest slot strictly in the future. */
func (q *Queries) CreateScheduledJob(ctx context.Context, workflowID int64, maintainer string, schedule JobSchedule) (*Job, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	nextRun := schedule.NextRun(time.Now().UTC())

	var jobID int64
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &jobID, `
			INSERT INTO neurondb_flow.jobs (workflow_id, job_type, maintainer, job_schedule, next_run)
			VALUES ($1, 'Scheduled', $2, $3::jsonb, $4)
			RETURNING job_id`,
			workflowID, maintainer, schedule, nextRun); err != nil {
			return fmt.Errorf("create scheduled job: %w", err)
		}
		return notify(ctx, tx, TopicJobs, "")
	})
	if err != nil {
		return nil, err
	}
	return q.ReadJob(ctx, jobID)
}

/* ReadJob reads one job with workflow and current-run detail */
func (q *Queries) ReadJob(ctx context.Context, jobID int64) (*Job, error) {
	var job Job
	if err := q.DB.GetContext(ctx, &job, readJobQuery, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("read job %d: %w", jobID, err)
	}
	return &job, nil
}

/* ListJobs lists all jobs */
func (q *Queries) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := q.DB.SelectContext(ctx, &jobs, listJobsQuery); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

/* ReadQueuedJobs materializes the due-set, earliest next_run first */
func (q *Queries) ReadQueuedJobs(ctx context.Context) ([]JobMin, error) {
	var jobs []JobMin
	if err := q.DB.SelectContext(ctx, &jobs, `
		SELECT j.job_id, j.next_run
		FROM neurondb_flow.v_queued_jobs j`); err != nil {
		return nil, fmt.Errorf("read queued jobs: %w", err)
	}
	return jobs, nil
}

/* SetJobPaused pauses or unpauses a job */
func (q *Queries) SetJobPaused(ctx context.Context, jobID int64, paused bool) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.jobs
			SET is_paused = $2
			WHERE job_id = $1`, jobID, paused)
		if err != nil {
			return fmt.Errorf("set job %d paused: %w", jobID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
		}
		return notify(ctx, tx, TopicJobs, "")
	})
}

/* RunJob fires a due job under a row lock: initialize a run from the
 * job's workflow, schedule it, stamp it as the job's current run and
 * advance next_run. All-or-nothing; contended jobs are skipped. */
func (q *Queries) RunJob(ctx context.Context, jobID int64) error {
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var job struct {
			WorkflowID         int64       `db:"workflow_id"`
			JobType            JobType     `db:"job_type"`
			IsPaused           bool        `db:"is_paused"`
			NextRun            time.Time   `db:"next_run"`
			JobIntervalSeconds *float64    `db:"job_interval_seconds"`
			JobSchedule        JobSchedule `db:"job_schedule"`
		}
		err := tx.GetContext(ctx, &job, `
			SELECT j.workflow_id, j.job_type, j.is_paused, j.next_run,
			       extract(epoch FROM j.job_interval) AS job_interval_seconds, j.job_schedule
			FROM neurondb_flow.jobs j
			WHERE j.job_id = $1
			FOR UPDATE SKIP LOCKED`, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock job %d: %w", jobID, err)
		}
		if job.IsPaused {
			return fmt.Errorf("job %d: %w", jobID, ErrJobPaused)
		}

		workflowRunID, err := q.initializeWorkflowRunTx(ctx, tx, job.WorkflowID)
		if err != nil {
			return err
		}
		if _, err := q.applyRunTransition(ctx, tx, workflowRunID, runTransition{
			status:      RunStatusScheduled,
			allowedFrom: []WorkflowRunStatus{RunStatusWaiting},
		}); err != nil {
			return err
		}

		var nextRun time.Time
		switch job.JobType {
		case JobTypeInterval:
			if job.JobIntervalSeconds == nil {
				return fmt.Errorf("interval job %d has no interval: %w", jobID, ErrInvalidSchedule)
			}
			nextRun = job.NextRun.Add(time.Duration(*job.JobIntervalSeconds * float64(time.Second)))
		case JobTypeScheduled:
			if err := job.JobSchedule.Validate(); err != nil {
				return fmt.Errorf("scheduled job %d: %w", jobID, err)
			}
			nextRun = job.JobSchedule.NextRun(time.Now().UTC())
		default:
			return fmt.Errorf("job %d has unknown type %s", jobID, job.JobType)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.jobs
			SET current_workflow_run_id = $2, next_run = $3
			WHERE job_id = $1`, jobID, workflowRunID, nextRun); err != nil {
			return fmt.Errorf("set job %d as running: %w", jobID, err)
		}
		return nil
	})
	if err == nil {
		metrics.RecordJobRun()
	}
	return err
}

/* CompleteJob settles a job after its current run terminates. A Complete
 * run clears the run reference and unpauses the job; any other terminal
 * status keeps the run reference and pauses the job. The returned string
 * is empty on success and otherwise carries the reason the job paused. */
func (q *Queries) CompleteJob(ctx context.Context, jobID int64) (string, error) {
	var result string
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var currentRunID *uuid.UUID
		err := tx.GetContext(ctx, &currentRunID, `
			SELECT j.current_workflow_run_id
			FROM neurondb_flow.jobs j
			WHERE j.job_id = $1
			FOR UPDATE SKIP LOCKED`, jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock job %d: %w", jobID, err)
		}
		if currentRunID == nil {
			return fmt.Errorf("job %d: %w", jobID, ErrJobNotActive)
		}

		var status WorkflowRunStatus
		if err := tx.GetContext(ctx, &status, `
			SELECT wr.status
			FROM neurondb_flow.workflow_runs wr
			WHERE wr.workflow_run_id = $1`, currentRunID); err != nil {
			return fmt.Errorf("read run %s of job %d: %w", currentRunID, jobID, err)
		}
		if !status.Terminal() {
			return fmt.Errorf("job %d run is %s: %w", jobID, status, ErrJobNotDone)
		}

		if status == RunStatusComplete {
			if _, err := tx.ExecContext(ctx, `
				UPDATE neurondb_flow.jobs
				SET current_workflow_run_id = NULL, is_paused = false
				WHERE job_id = $1`, jobID); err != nil {
				return fmt.Errorf("complete job %d: %w", jobID, err)
			}
			result = ""
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE neurondb_flow.jobs
				SET is_paused = true
				WHERE job_id = $1`, jobID); err != nil {
				return fmt.Errorf("pause job %d: %w", jobID, err)
			}
			result = fmt.Sprintf("Workflow run %s ended with status %s, job paused", currentRunID, status)
		}
		return notify(ctx, tx, TopicJobs, "")
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
