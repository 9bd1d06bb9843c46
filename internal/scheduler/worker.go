/*-------------------------------------------------------------------------
 *
 * worker.go
 *    Job scheduler worker for NeuronFlow
 *
 * Keeps the due-set of jobs in memory, sleeps until the earliest
 * next_run, fires due jobs, and settles jobs whose run terminated.
 * Driven by the jobs notification topic with a polling fallback for
 * missed notifications. Maintainers are emailed when a job pauses.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neurondb/NeuronFlow/internal/config"
	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/metrics"
	"github.com/neurondb/NeuronFlow/internal/notifications"
)

/* ErrDuplicateJobID marks a due-set reload that saw the same job twice.
 * The due-set view keys on job_id; a duplicate means the store is handing
 * back inconsistent rows and the scheduler must not keep running on them. */
var ErrDuplicateJobID = errors.New("duplicate job id in due-set")

/* JobWorker drives the job scheduling loop */
type JobWorker struct {
	queries      *db.Queries
	connStr      string
	email        *notifications.EmailService
	pollInterval time.Duration

	jobs    map[int64]db.JobMin
	nextJob int64
}

/* NewJobWorker creates a job worker */
func NewJobWorker(database *db.DB, email *notifications.EmailService, cfg config.SchedulerConfig) *JobWorker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &JobWorker{
		queries:      db.NewQueries(database.DB),
		connStr:      database.ConnString(),
		email:        email,
		pollInterval: pollInterval,
		jobs:         make(map[int64]db.JobMin),
	}
}

/* Run is the scheduler main loop */
func (w *JobWorker) Run(ctx context.Context) error {
	listener, err := db.NewListener(w.connStr, db.TopicJobs)
	if err != nil {
		return err
	}
	defer listener.Close()

	if err := w.loadJobs(ctx); err != nil {
		return err
	}

	for {
		wait := w.nextWait()
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.InfoWithContext(ctx, "Scheduler shutting down", nil)
			return nil

		case notification := <-listener.Notifications():
			timer.Stop()
			if notification == nil {
				/* Listener reconnected; reconcile against the views */
				if err := w.loadJobs(ctx); err != nil {
					return err
				}
				continue
			}
			if err := w.handleNotification(ctx, notification.Extra); err != nil {
				return err
			}

		case <-timer.C:
			if err := listener.Ping(); err != nil {
				metrics.WarnWithContext(ctx, "Listener ping failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			if err := w.runNextJob(ctx); err != nil {
				return err
			}
			if err := w.loadJobs(ctx); err != nil {
				return err
			}
		}
	}
}

/* nextWait returns how long to sleep before the earliest due job, capped
 * by the polling interval */
func (w *JobWorker) nextWait() time.Duration {
	job, ok := w.jobs[w.nextJob]
	if !ok {
		return w.pollInterval
	}
	wait := time.Until(job.NextRun)
	if wait < 0 {
		wait = 0
	}
	if wait > w.pollInterval {
		wait = w.pollInterval
	}
	return wait
}

/* handleNotification reacts to a jobs topic message: an empty payload
 * means the due-set changed, a job id means that job's run terminated */
func (w *JobWorker) handleNotification(ctx context.Context, payload string) error {
	payload = strings.TrimSpace(payload)
	if payload != "" {
		jobID, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			metrics.WarnWithContext(ctx, "Cannot parse job_id from notification", map[string]interface{}{
				"payload": payload,
			})
			return w.loadJobs(ctx)
		}
		if err := w.completeJob(ctx, jobID); err != nil {
			return err
		}
	}
	return w.loadJobs(ctx)
}

/* loadJobs reloads the due-set */
func (w *JobWorker) loadJobs(ctx context.Context) error {
	jobs, err := w.queries.ReadQueuedJobs(ctx)
	if err != nil {
		return err
	}

	w.jobs = make(map[int64]db.JobMin, len(jobs))
	w.nextJob = 0
	for i, job := range jobs {
		if duplicate, ok := w.jobs[job.JobID]; ok {
			return fmt.Errorf("job %d queued at both %s and %s: %w",
				job.JobID, duplicate.NextRun, job.NextRun, ErrDuplicateJobID)
		}
		if i == 0 {
			w.nextJob = job.JobID
		}
		w.jobs[job.JobID] = job
	}

	metrics.DebugWithContext(ctx, "Reloaded job queue", map[string]interface{}{
		"queued": len(jobs),
	})
	return nil
}

/* runNextJob fires the earliest due job, if its time has come */
func (w *JobWorker) runNextJob(ctx context.Context) error {
	job, ok := w.jobs[w.nextJob]
	if !ok {
		return nil
	}
	if job.NextRun.After(time.Now().UTC()) {
		return nil
	}

	ctx = metrics.WithJobIDLogContext(ctx, job.JobID)
	metrics.InfoWithContext(ctx, "Starting new job run", nil)

	if err := w.queries.RunJob(ctx, job.JobID); err != nil {
		switch {
		case errors.Is(err, db.ErrJobPaused), errors.Is(err, db.ErrNotFound):
			/* The job changed under us; the reload below reconciles */
			metrics.WarnWithContext(ctx, "Job no longer runnable", map[string]interface{}{
				"error": err.Error(),
			})
			return nil
		case errors.Is(err, db.ErrWorkflowDeprecated):
			metrics.WarnWithContext(ctx, "Job workflow is deprecated, pausing job", map[string]interface{}{
				"error": err.Error(),
			})
			return w.pauseAndNotify(ctx, job.JobID, err.Error())
		}
		return err
	}
	return nil
}

/* completeJob settles a job whose run terminated, emailing the maintainer
 * when the job paused */
func (w *JobWorker) completeJob(ctx context.Context, jobID int64) error {
	if _, ok := w.jobs[jobID]; !ok {
		metrics.WarnWithContext(ctx, "Received completion for a job outside the due-set", map[string]interface{}{
			"job_id": jobID,
		})
	}

	ctx = metrics.WithJobIDLogContext(ctx, jobID)
	result, err := w.queries.CompleteJob(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrJobNotActive), errors.Is(err, db.ErrJobNotDone), errors.Is(err, db.ErrNotFound):
			metrics.WarnWithContext(ctx, "Job cannot be settled yet", map[string]interface{}{
				"error": err.Error(),
			})
			return nil
		}
		return err
	}
	if result == "" {
		metrics.InfoWithContext(ctx, "Job run completed", nil)
		return nil
	}

	metrics.WarnWithContext(ctx, "Job paused after run", map[string]interface{}{
		"reason": result,
	})
	return w.emailMaintainer(ctx, jobID, result)
}

/* pauseAndNotify pauses a job and emails the maintainer with the reason */
func (w *JobWorker) pauseAndNotify(ctx context.Context, jobID int64, reason string) error {
	if err := w.queries.SetJobPaused(ctx, jobID, true); err != nil {
		return err
	}
	return w.emailMaintainer(ctx, jobID, reason)
}

/* emailMaintainer sends a job completion error email. Email failures are
 * logged, never fatal to the scheduling loop. */
func (w *JobWorker) emailMaintainer(ctx context.Context, jobID int64, message string) error {
	if w.email == nil || !w.email.IsEnabled() {
		return nil
	}

	job, err := w.queries.ReadJob(ctx, jobID)
	if err != nil {
		return err
	}

	if err := w.email.SendJobAlert(ctx, job.Maintainer, job.WorkflowName, message); err != nil {
		metrics.ErrorWithContext(ctx, "Failed to email maintainer", err, map[string]interface{}{
			"maintainer": job.Maintainer,
		})
	}
	return nil
}
