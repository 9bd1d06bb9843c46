/*-------------------------------------------------------------------------
 *
 * workflow_queries.go
 *    Workflow template queries for NeuronFlow
 *
 * Creates, reads and deprecates workflow templates. Template rows keep a
 * dense 1-based task_order per workflow, enforced by a statement trigger;
 * statements here only ever touch one workflow at a time.
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

/* WorkflowTaskRequest is one template row of a workflow create request */
type WorkflowTaskRequest struct {
	TaskID     int64       `json:"task_id"`
	Parameters JSONBParams `json:"parameters"`
}

const readWorkflowQuery = `
	SELECT w.workflow_id, w.name, w.is_deprecated, w.new_workflow, w.tasks
	FROM neurondb_flow.v_workflows w
	WHERE w.workflow_id = $1`

const listWorkflowsQuery = `
	SELECT w.workflow_id, w.name, w.is_deprecated, w.new_workflow, w.tasks
	FROM neurondb_flow.v_workflows w
	ORDER BY w.workflow_id`

/* CreateWorkflow creates a workflow template and its ordered task rows */
func (q *Queries) CreateWorkflow(ctx context.Context, name string, tasks []WorkflowTaskRequest) (*Workflow, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("workflow name cannot be blank: %w", ErrInvalidRequest)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("workflow %q needs at least one task: %w", name, ErrInvalidRequest)
	}

	var workflowID int64
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &workflowID, `
			INSERT INTO neurondb_flow.workflows (name)
			VALUES ($1)
			RETURNING workflow_id`, name); err != nil {
			return fmt.Errorf("create workflow %q: %w", name, err)
		}
		for i, task := range tasks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO neurondb_flow.workflow_tasks (workflow_id, task_order, task_id, parameters)
				VALUES ($1, $2, $3, $4::jsonb)`,
				workflowID, i+1, task.TaskID, task.Parameters); err != nil {
				return fmt.Errorf("create workflow task %d of %q: %w", i+1, name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q.ReadWorkflow(ctx, workflowID)
}

/* ReadWorkflow reads one template with its task array */
func (q *Queries) ReadWorkflow(ctx context.Context, workflowID int64) (*Workflow, error) {
	var workflow Workflow
	if err := q.DB.GetContext(ctx, &workflow, readWorkflowQuery, workflowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %d: %w", workflowID, ErrNotFound)
		}
		return nil, fmt.Errorf("read workflow %d: %w", workflowID, err)
	}
	return &workflow, nil
}

/* ListWorkflows lists all templates with their task arrays */
func (q *Queries) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var workflows []Workflow
	if err := q.DB.SelectContext(ctx, &workflows, listWorkflowsQuery); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

/* DeprecateWorkflow marks a template deprecated, optionally pointing at a
 * successor. The successor is guidance only; initialize never follows it. */
func (q *Queries) DeprecateWorkflow(ctx context.Context, workflowID int64, newWorkflow *int64) error {
	return q.withTx(ctx, func(tx *sqlx.Tx) error {
		if newWorkflow != nil {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `
				SELECT EXISTS (SELECT 1 FROM neurondb_flow.workflows WHERE workflow_id = $1)`,
				*newWorkflow); err != nil {
				return fmt.Errorf("check successor workflow %d: %w", *newWorkflow, err)
			}
			if !exists {
				return fmt.Errorf("successor workflow %d: %w", *newWorkflow, ErrNotFound)
			}
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE neurondb_flow.workflows
			SET is_deprecated = true, new_workflow = $2, updated_at = now()
			WHERE workflow_id = $1`, workflowID, newWorkflow)
		if err != nil {
			return fmt.Errorf("deprecate workflow %d: %w", workflowID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("workflow %d: %w", workflowID, ErrNotFound)
		}
		return nil
	})
}
