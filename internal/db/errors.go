/*-------------------------------------------------------------------------
 *
 * errors.go
 *    Store error kinds for NeuronFlow
 *
 * Sentinel errors distinguishing precondition failures, missing records
 * and invariant violations so callers can decide whether to retry, settle
 * or surface.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import "errors"

var (
	/* ErrNotFound marks a lookup that matched no record */
	ErrNotFound = errors.New("record not found")

	/* ErrInvalidTransition marks a status change whose precondition status
	 * did not hold. No state was changed. */
	ErrInvalidTransition = errors.New("invalid status transition")

	/* ErrWorkflowDeprecated marks an attempt to initialize a run for a
	 * deprecated workflow */
	ErrWorkflowDeprecated = errors.New("workflow is deprecated")

	/* ErrJobPaused marks an attempt to run a paused job */
	ErrJobPaused = errors.New("job is paused")

	/* ErrJobNotActive marks complete_job against a job with no current run */
	ErrJobNotActive = errors.New("job must be active to finish")

	/* ErrJobNotDone marks complete_job while the current run is still
	 * Scheduled or Running */
	ErrJobNotDone = errors.New("workflow run must be done to complete job")

	/* ErrInvalidRequest marks a malformed create or update request */
	ErrInvalidRequest = errors.New("invalid request")

	/* ErrInvalidRule marks a task rule or rules array that fails validation */
	ErrInvalidRule = errors.New("invalid task rule")

	/* ErrInvalidSchedule marks a job schedule that fails validation */
	ErrInvalidSchedule = errors.New("invalid job schedule")

	/* ErrBlankMessage marks a fail_task_run call with an empty message */
	ErrBlankMessage = errors.New("fail message must be non-empty")

	/* ErrInvalidProgress marks a progress value outside 0..100 */
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)
