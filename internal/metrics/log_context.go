/*-------------------------------------------------------------------------
 *
 * log_context.go
 *    Log context helpers for structured logging
 *
 * Provides helpers for consistent structured logging with request_id,
 * workflow_run_id, executor_id and job_id fields across all components.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/metrics/log_context.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	workflowRunIDKey contextKey = "workflow_run_id"
	executorIDKey    contextKey = "executor_id"
	jobIDKey         contextKey = "job_id"
)

/* InitLogging configures the global logger. Format is "json" or "console". */
func InitLogging(level, format string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

/* WithRequestIDLogContext adds a request ID to log context */
func WithRequestIDLogContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

/* WithWorkflowRunIDLogContext adds a workflow run ID to log context */
func WithWorkflowRunIDLogContext(ctx context.Context, workflowRunID uuid.UUID) context.Context {
	return context.WithValue(ctx, workflowRunIDKey, workflowRunID.String())
}

/* WithExecutorIDLogContext adds an executor ID to log context */
func WithExecutorIDLogContext(ctx context.Context, executorID int64) context.Context {
	return context.WithValue(ctx, executorIDKey, fmt.Sprintf("%d", executorID))
}

/* WithJobIDLogContext adds a job ID to log context */
func WithJobIDLogContext(ctx context.Context, jobID int64) context.Context {
	return context.WithValue(ctx, jobIDKey, fmt.Sprintf("%d", jobID))
}

/* GetRequestIDFromContext gets the request ID from context */
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

/* LoggerFromContext creates a zerolog logger with fields from context */
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	logger := log.Logger

	for _, key := range []contextKey{requestIDKey, workflowRunIDKey, executorIDKey, jobIDKey} {
		if value, ok := ctx.Value(key).(string); ok && value != "" {
			logger = logger.With().Str(string(key), value).Logger()
		}
	}

	return logger
}

/* LogWithContext logs a message with context fields */
func LogWithContext(ctx context.Context, level zerolog.Level, message string, fields map[string]interface{}) {
	logger := LoggerFromContext(ctx)
	event := logger.WithLevel(level)

	for key, value := range fields {
		event = event.Interface(key, value)
	}

	event.Msg(message)
}

/* DebugWithContext logs a debug message with context */
func DebugWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.DebugLevel, message, fields)
}

/* InfoWithContext logs an info message with context */
func InfoWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.InfoLevel, message, fields)
}

/* WarnWithContext logs a warning message with context */
func WarnWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.WarnLevel, message, fields)
}

/* ErrorWithContext logs an error message with context */
func ErrorWithContext(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogWithContext(ctx, zerolog.ErrorLevel, message, fields)
}
