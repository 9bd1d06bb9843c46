/*-------------------------------------------------------------------------
 *
 * task_queries.go
 *    Task catalog queries for NeuronFlow
 *
 * Creates, reads and updates the task catalog and the task services the
 * tasks dispatch to. The effective URL a task runs against is the
 * service base_url joined with the task url, exposed by v_tasks.
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
	"strings"

	"github.com/jmoiron/sqlx"
)

const readTaskQuery = `
	SELECT t.task_id, t.name, t.description, t.task_service_id, t.task_service_name, t.url, t.effective_url
	FROM neurondb_flow.v_tasks t
	WHERE t.task_id = $1`

const listTasksQuery = `
	SELECT t.task_id, t.name, t.description, t.task_service_id, t.task_service_name, t.url, t.effective_url
	FROM neurondb_flow.v_tasks t
	ORDER BY t.task_id`

/* CreateTaskService registers a remote task service */
func (q *Queries) CreateTaskService(ctx context.Context, name, baseURL string) (*TaskService, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("task service name and base_url cannot be blank: %w", ErrInvalidRequest)
	}
	var service TaskService
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &service, `
			INSERT INTO neurondb_flow.task_services (name, base_url)
			VALUES ($1, $2)
			RETURNING service_id, name, base_url`, name, baseURL)
	})
	if err != nil {
		return nil, fmt.Errorf("create task service %q: %w", name, err)
	}
	return &service, nil
}

/* ListTaskServices lists registered task services */
func (q *Queries) ListTaskServices(ctx context.Context) ([]TaskService, error) {
	var services []TaskService
	if err := q.DB.SelectContext(ctx, &services, `
		SELECT ts.service_id, ts.name, ts.base_url
		FROM neurondb_flow.task_services ts
		ORDER BY ts.service_id`); err != nil {
		return nil, fmt.Errorf("list task services: %w", err)
	}
	return services, nil
}

/* CreateTask registers a task against a task service */
func (q *Queries) CreateTask(ctx context.Context, name, description string, taskServiceID int64, url string) (*Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("task name cannot be blank: %w", ErrInvalidRequest)
	}
	var taskID int64
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &taskID, `
			INSERT INTO neurondb_flow.tasks (name, description, task_service_id, url)
			VALUES ($1, $2, $3, $4)
			RETURNING task_id`, name, description, taskServiceID, url)
	})
	if err != nil {
		return nil, fmt.Errorf("create task %q: %w", name, err)
	}
	return q.ReadTask(ctx, taskID)
}

/* ReadTask reads one task with its effective URL */
func (q *Queries) ReadTask(ctx context.Context, taskID int64) (*Task, error) {
	var task Task
	if err := q.DB.GetContext(ctx, &task, readTaskQuery, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("read task %d: %w", taskID, err)
	}
	return &task, nil
}

/* ListTasks lists the task catalog */
func (q *Queries) ListTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if err := q.DB.SelectContext(ctx, &tasks, listTasksQuery); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

/* UpdateTask updates a task's catalog entry */
func (q *Queries) UpdateTask(ctx context.Context, taskID int64, name, description string, taskServiceID int64, url string) (*Task, error) {
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.tasks
			SET name = $2, description = $3, task_service_id = $4, url = $5, updated_at = now()
			WHERE task_id = $1`, taskID, name, description, taskServiceID, url)
		if err != nil {
			return fmt.Errorf("update task %d: %w", taskID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q.ReadTask(ctx, taskID)
}

/* EffectiveURL joins a service base URL and a task url the way v_tasks
 * does: one slash between trimmed halves */
func EffectiveURL(baseURL, url string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(url, "/")
}
