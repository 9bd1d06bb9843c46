/*-------------------------------------------------------------------------
 *
 * prometheus.go
 *    Prometheus metrics for NeuronFlow
 *
 * Exposes counters, gauges and histograms for HTTP requests, workflow
 * runs, task runs, executors, jobs, notifications and the database pool.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/metrics/prometheus.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	/* Request metrics */
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_flow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurondb_flow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	/* Workflow run metrics */
	workflowRunsInitialized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_flow_workflow_runs_initialized_total",
			Help: "Total number of workflow runs initialized",
		},
	)

	workflowRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_flow_workflow_runs_completed_total",
			Help: "Total number of workflow runs settled, by final status",
		},
		[]string{"status"},
	)

	workflowRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neurondb_flow_workflow_run_duration_seconds",
			Help:    "Workflow run execution duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"status"},
	)

	/* Task run metrics */
	taskRunsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_flow_task_runs_completed_total",
			Help: "Total number of task runs completed",
		},
	)

	taskRunsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_flow_task_runs_failed_total",
			Help: "Total number of task runs failed",
		},
	)

	taskRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neurondb_flow_task_run_duration_seconds",
			Help:    "Remote task run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	/* Executor metrics */
	executorsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_flow_executors_registered_total",
			Help: "Total number of executors registered",
		},
	)

	executorsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_flow_executors_closed_total",
			Help: "Total number of executors closed, by terminal status",
		},
		[]string{"status"},
	)

	executorsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_flow_executors_reaped_total",
			Help: "Total number of ghost executors reaped",
		},
	)

	/* Job metrics */
	jobRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurondb_flow_job_runs_total",
			Help: "Total number of job runs fired",
		},
	)

	/* Notification metrics */
	notificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurondb_flow_notifications_published_total",
			Help: "Total number of notifications published, by topic class",
		},
		[]string{"topic"},
	)

	/* Database metrics */
	dbPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neurondb_flow_db_pool_connections",
			Help: "Database connection pool statistics",
		},
		[]string{"state"},
	)
)

/* RecordHTTPRequest records HTTP request metrics */
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

/* RecordWorkflowRunInitialized records a new workflow run */
func RecordWorkflowRunInitialized() {
	workflowRunsInitialized.Inc()
}

/* RecordWorkflowRunCompleted records a settled workflow run */
func RecordWorkflowRunCompleted(status string) {
	workflowRunsCompleted.WithLabelValues(status).Inc()
}

/* RecordWorkflowRunDuration records how long a run took to settle */
func RecordWorkflowRunDuration(status string, duration time.Duration) {
	workflowRunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

/* RecordTaskRunCompleted records a completed task run */
func RecordTaskRunCompleted() {
	taskRunsCompleted.Inc()
}

/* RecordTaskRunFailed records a failed task run */
func RecordTaskRunFailed() {
	taskRunsFailed.Inc()
}

/* RecordTaskRunDuration records a remote task run duration */
func RecordTaskRunDuration(duration time.Duration) {
	taskRunDuration.Observe(duration.Seconds())
}

/* RecordExecutorRegistered records a new executor registration */
func RecordExecutorRegistered() {
	executorsRegistered.Inc()
}

/* RecordExecutorClosed records an executor close */
func RecordExecutorClosed(status string) {
	executorsClosed.WithLabelValues(status).Inc()
}

/* RecordExecutorReaped records a reaped ghost executor */
func RecordExecutorReaped() {
	executorsReaped.Inc()
}

/* RecordJobRun records a fired job run */
func RecordJobRun() {
	jobRunsTotal.Inc()
}

/* RecordNotificationPublished records a published notification. Topic is
 * collapsed to its class to bound label cardinality. */
func RecordNotificationPublished(topic string) {
	notificationsPublished.WithLabelValues(topicClass(topic)).Inc()
}

func topicClass(topic string) string {
	switch {
	case topic == "jobs" || topic == "wr_progress":
		return topic
	case len(topic) > 12 && topic[:12] == "wr_scheduled":
		return "wr_scheduled"
	case len(topic) > 11 && topic[:11] == "wr_canceled":
		return "wr_canceled"
	case len(topic) > 11 && topic[:11] == "exec_status":
		return "exec_status"
	}
	return "other"
}

/* RecordDBPoolStats records database connection pool statistics */
func RecordDBPoolStats(openConns, idleConns, inUse int) {
	dbPoolConnections.WithLabelValues("open").Set(float64(openConns))
	dbPoolConnections.WithLabelValues("idle").Set(float64(idleConns))
	dbPoolConnections.WithLabelValues("in_use").Set(float64(inUse))
}

/* Handler returns the Prometheus metrics handler */
func Handler() http.Handler {
	return promhttp.Handler()
}
