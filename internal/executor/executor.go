/*-------------------------------------------------------------------------
 *
 * executor.go
 *    Executor runtime for NeuronFlow
 *
 * Registers an executor session and runs its main loop: wake on
 * wr_scheduled notifications to lease workflow runs, spawn one worker
 * per owned run, abort runs on wr_canceled, and honor shutdown/cancel
 * requests from the exec_status topic. Falls back to polling so missed
 * notifications only delay work. Also hosts the ghost-executor reaper.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neurondb/NeuronFlow/internal/config"
	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

/* Executor owns one registered executor session and its workers */
type Executor struct {
	executorID int64
	queries    *db.Queries
	driver     *Driver
	connStr    string

	pollInterval  time.Duration
	cleanInterval time.Duration

	mu      sync.Mutex
	workers map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

/* New registers a new executor session and returns its runtime */
func New(ctx context.Context, database *db.DB, cfg config.ExecutorConfig) (*Executor, error) {
	queries := db.NewQueries(database.DB)

	/* Reap ghosts first so registration starts from a clean registry */
	if err := queries.CleanExecutors(ctx); err != nil {
		return nil, fmt.Errorf("clean executors before registration: %w", err)
	}

	executorID, err := queries.RegisterExecutor(ctx)
	if err != nil {
		return nil, err
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	cleanInterval := cfg.CleanInterval
	if cleanInterval <= 0 {
		cleanInterval = time.Minute
	}

	return &Executor{
		executorID:    executorID,
		queries:       queries,
		driver:        NewDriver(queries, cfg.TaskRequestTimeout),
		connStr:       database.ConnString(),
		pollInterval:  pollInterval,
		cleanInterval: cleanInterval,
		workers:       make(map[uuid.UUID]context.CancelFunc),
	}, nil
}

/* ExecutorID returns the registered executor id */
func (e *Executor) ExecutorID() int64 {
	return e.executorID
}

/* Run is the executor main loop. Returns once a shutdown or cancel
 * request was honored, the context ended, or a fatal error occurred.
 * The executor record is always closed on exit. */
func (e *Executor) Run(ctx context.Context) error {
	ctx = metrics.WithExecutorIDLogContext(ctx, e.executorID)

	listener, err := db.NewListener(e.connStr,
		db.TopicWorkflowRunScheduled(e.executorID),
		db.TopicWorkflowRunCanceled(e.executorID),
		db.TopicExecutorStatus(e.executorID),
	)
	if err != nil {
		e.fatal(ctx, err)
		return err
	}
	defer listener.Close()

	if err := e.resumeOwnedRuns(ctx); err != nil {
		e.fatal(ctx, err)
		return err
	}
	if err := e.drainRuns(ctx); err != nil {
		e.fatal(ctx, err)
		return err
	}

	pollTicker := time.NewTicker(e.pollInterval)
	defer pollTicker.Stop()
	cleanTicker := time.NewTicker(e.cleanInterval)
	defer cleanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.InfoWithContext(ctx, "Context ended, starting graceful shutdown", nil)
			return e.shutdown(context.Background(), false)

		case notification := <-listener.Notifications():
			if notification == nil {
				/* Listener reconnected; notifications may have been lost.
				 * Reconcile against the authoritative queue. */
				if err := e.drainRuns(ctx); err != nil {
					e.fatal(ctx, err)
					return err
				}
				continue
			}
			done, err := e.handleNotification(ctx, notification.Channel, notification.Extra)
			if err != nil {
				e.fatal(ctx, err)
				return err
			}
			if done {
				return nil
			}

		case <-pollTicker.C:
			if err := listener.Ping(); err != nil {
				metrics.WarnWithContext(ctx, "Listener ping failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			if err := e.drainRuns(ctx); err != nil {
				e.fatal(ctx, err)
				return err
			}

		case <-cleanTicker.C:
			if err := e.queries.CleanExecutors(ctx); err != nil {
				metrics.WarnWithContext(ctx, "Executor clean failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

/* handleNotification dispatches one notification by topic. The returned
 * bool reports whether the executor finished its lifecycle. */
func (e *Executor) handleNotification(ctx context.Context, channel, payload string) (bool, error) {
	switch {
	case channel == db.TopicWorkflowRunScheduled(e.executorID):
		return false, e.drainRuns(ctx)

	case channel == db.TopicWorkflowRunCanceled(e.executorID):
		runID, err := uuid.Parse(payload)
		if err != nil {
			metrics.WarnWithContext(ctx, "Cannot parse workflow_run_id from cancel notification", map[string]interface{}{
				"payload": payload,
			})
			return false, nil
		}
		e.cancelWorker(runID)
		return false, nil

	case channel == db.TopicExecutorStatus(e.executorID):
		switch strings.TrimSpace(payload) {
		case db.ExecutorStatusPayloadCancel:
			metrics.InfoWithContext(ctx, "Received cancel request", nil)
			return true, e.shutdown(ctx, true)
		case db.ExecutorStatusPayloadShutdown:
			metrics.InfoWithContext(ctx, "Received shutdown request", nil)
			return true, e.shutdown(ctx, false)
		default:
			return false, nil
		}
	}
	return false, nil
}

/* resumeOwnedRuns restarts workers for runs this executor already owns,
 * settling the ones that are no longer runnable */
func (e *Executor) resumeOwnedRuns(ctx context.Context) error {
	runs, err := e.queries.ExecutorWorkflowRuns(ctx, e.executorID)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run.Status != db.RunStatusRunning {
			continue
		}
		if !run.IsValid {
			if err := e.queries.CompleteWorkflowRun(ctx, run.WorkflowRunID); err != nil {
				return err
			}
			continue
		}
		e.startWorker(ctx, run.WorkflowRunID)
	}
	return nil
}

/* drainRuns leases scheduled runs until the queue is empty, spawning a
 * worker for every valid lease and settling invalid ones */
func (e *Executor) drainRuns(ctx context.Context) error {
	for {
		lease, err := e.queries.NextWorkflowRun(ctx, e.executorID)
		if err != nil {
			return err
		}
		if lease == nil {
			return nil
		}
		if !lease.IsValid {
			metrics.WarnWithContext(ctx, "Leased workflow run has tasks in a dirty state, settling it", map[string]interface{}{
				"workflow_run_id": lease.WorkflowRunID.String(),
			})
			if err := e.queries.CompleteWorkflowRun(ctx, lease.WorkflowRunID); err != nil {
				return err
			}
			continue
		}
		e.startWorker(ctx, lease.WorkflowRunID)
	}
}

/* startWorker spawns a worker goroutine for one workflow run */
func (e *Executor) startWorker(ctx context.Context, workflowRunID uuid.UUID) {
	e.mu.Lock()
	if _, running := e.workers[workflowRunID]; running {
		e.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	e.workers[workflowRunID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.workers, workflowRunID)
			e.mu.Unlock()
			cancel()
		}()

		worker := NewWorkflowRunWorker(workflowRunID, e.queries, e.driver)
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			metrics.ErrorWithContext(ctx, "Workflow run worker failed", err, map[string]interface{}{
				"workflow_run_id": workflowRunID.String(),
			})
			if postErr := e.queries.PostExecutorError(ctx, e.executorID, err.Error()); postErr != nil {
				metrics.ErrorWithContext(ctx, "Failed to post executor error", postErr, nil)
			}
		}
	}()
}

/* cancelWorker aborts the worker of one run, if any */
func (e *Executor) cancelWorker(workflowRunID uuid.UUID) {
	e.mu.Lock()
	cancel, ok := e.workers[workflowRunID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

/* shutdown finishes the executor lifecycle. Graceful shutdown waits for
 * workers to drain their runs; cancel aborts them. The executor record
 * is closed either way, which cancels any run still owned. */
func (e *Executor) shutdown(ctx context.Context, isCancelled bool) error {
	if isCancelled {
		e.mu.Lock()
		for _, cancel := range e.workers {
			cancel()
		}
		e.mu.Unlock()
	}
	e.wg.Wait()
	return e.queries.CloseExecutor(ctx, e.executorID, isCancelled)
}

/* fatal posts a fatal loop error to the executor record and closes it */
func (e *Executor) fatal(ctx context.Context, cause error) {
	metrics.ErrorWithContext(ctx, "Executor fatal error", cause, nil)
	if err := e.queries.PostExecutorError(ctx, e.executorID, cause.Error()); err != nil {
		metrics.ErrorWithContext(ctx, "Failed to post executor error", err, nil)
	}
	e.mu.Lock()
	for _, cancel := range e.workers {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
	if err := e.queries.CloseExecutor(ctx, e.executorID, true); err != nil {
		metrics.ErrorWithContext(ctx, "Failed to close executor", err, nil)
	}
}
