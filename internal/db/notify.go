/*-------------------------------------------------------------------------
 *
 * notify.go
 *    Notification bus for NeuronFlow
 *
 * Topic-addressed best-effort wake-ups over PostgreSQL LISTEN/NOTIFY.
 * Notifications published inside a transaction are delivered on commit;
 * subscribers that reconnect later reconcile by polling the views.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

/* TopicJobs carries a job id, or an empty payload for "something changed" */
const TopicJobs = "jobs"

/* TopicWorkflowRunProgress carries the workflow_run_id whose progress changed */
const TopicWorkflowRunProgress = "wr_progress"

/* ExecutorStatusPayloadCancel and ExecutorStatusPayloadShutdown are the two payloads of
 * the per-executor status topic */
const (
	ExecutorStatusPayloadCancel   = "cancel"
	ExecutorStatusPayloadShutdown = "shutdown"
)

/* TopicWorkflowRunScheduled names the per-executor topic fired when a run
 * is assigned to the executor; payload is the workflow_run_id */
func TopicWorkflowRunScheduled(executorID int64) string {
	return fmt.Sprintf("wr_scheduled_%d", executorID)
}

/* TopicWorkflowRunCanceled names the per-executor topic fired when a run
 * owned by the executor is canceled; payload is the workflow_run_id */
func TopicWorkflowRunCanceled(executorID int64) string {
	return fmt.Sprintf("wr_canceled_%d", executorID)
}

/* TopicExecutorStatus names the per-executor topic carrying cancel and
 * shutdown requests */
func TopicExecutorStatus(executorID int64) string {
	return fmt.Sprintf("exec_status_%d", executorID)
}

/* notify publishes on a topic inside the given transaction. Delivery
 * happens at commit; a rolled back transaction publishes nothing. */
func notify(ctx context.Context, tx *sqlx.Tx, topic, payload string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, topic, payload); err != nil {
		return fmt.Errorf("notify %s: %w", topic, err)
	}
	metrics.RecordNotificationPublished(topic)
	return nil
}

/* Listener wraps a dedicated LISTEN connection subscribed to one or more
 * topics. Consumers drain Notifications and reconcile by polling, since
 * delivery is best-effort across reconnects. */
type Listener struct {
	pq     *pq.Listener
	topics []string
}

/* NewListener opens a listener subscribed to the given topics */
func NewListener(connStr string, topics ...string) (*Listener, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			metrics.WarnWithContext(context.Background(), "PostgreSQL LISTEN error", map[string]interface{}{
				"event": int(ev),
				"error": err.Error(),
			})
		}
	}

	listener := pq.NewListener(connStr, 10*time.Second, time.Minute, reportProblem)
	for _, topic := range topics {
		if err := listener.Listen(topic); err != nil {
			listener.Close()
			return nil, fmt.Errorf("listen on %s: %w", topic, err)
		}
	}
	return &Listener{pq: listener, topics: topics}, nil
}

/* Notifications returns the notification channel. A nil notification
 * signals a reconnect; consumers should re-poll their authoritative views. */
func (l *Listener) Notifications() <-chan *pq.Notification {
	return l.pq.Notify
}

/* Ping keeps the listener connection alive; call on an idle timeout */
func (l *Listener) Ping() error {
	return l.pq.Ping()
}

func (l *Listener) Close() error {
	return l.pq.Close()
}
