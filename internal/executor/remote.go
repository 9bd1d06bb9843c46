/*-------------------------------------------------------------------------
 *
 * remote.go
 *    Remote task service driver for NeuronFlow
 *
 * Invokes a task's effective URL with the queue record as a JSON body
 * and consumes the streamed response: newline-delimited JSON messages
 * reporting progress, rule findings, and finally the done flag. The
 * stream ending without a done message fails the task.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 *-------------------------------------------------------------------------
 */

package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

/* ErrExitedTask marks a remote task stream that ended without a done
 * message */
var ErrExitedTask = errors.New("exited remote task run unexpectedly")

/* TaskResponse is one streamed message from a remote task service */
type TaskResponse struct {
	Type     string       `json:"type"`
	Progress *int16       `json:"progress,omitempty"`
	Rule     *db.TaskRule `json:"rule,omitempty"`
	Paused   bool         `json:"paused,omitempty"`
	Message  *string      `json:"message,omitempty"`
}

const (
	responseTypeProgress = "progress"
	responseTypeRule     = "rule"
	responseTypeDone     = "done"
)

/* Driver runs remote tasks and relays their intermediate reports back to
 * the store */
type Driver struct {
	queries *db.Queries
	client  *http.Client
}

/* NewDriver creates a remote task driver. A zero timeout leaves request
 * duration unbounded; task bodies can legitimately run for hours and
 * cancellation arrives through the context. */
func NewDriver(queries *db.Queries, timeout time.Duration) *Driver {
	return &Driver{
		queries: queries,
		client:  &http.Client{Timeout: timeout},
	}
}

/* Run invokes the remote task service for one queue record and consumes
 * its response stream. Returns the paused flag and optional output text
 * of the done message. */
func (d *Driver) Run(ctx context.Context, record *db.TaskQueueRecord) (bool, *string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return false, nil, fmt.Errorf("encode task queue record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, record.URL, bytes.NewReader(body))
	if err != nil {
		return false, nil, fmt.Errorf("build task request for %s: %w", record.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("invoke task service %s: %w", record.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Errorf("task service %s returned status %d", record.URL, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var message TaskResponse
		if err := json.Unmarshal(line, &message); err != nil {
			return false, nil, fmt.Errorf("decode task response from %s: %w", record.URL, err)
		}

		switch message.Type {
		case responseTypeProgress:
			if message.Progress == nil {
				return false, nil, fmt.Errorf("progress message from %s has no progress value", record.URL)
			}
			if err := d.queries.SetTaskProgress(ctx, record.WorkflowRunID, record.TaskOrder, *message.Progress); err != nil {
				return false, nil, err
			}
		case responseTypeRule:
			if message.Rule == nil {
				return false, nil, fmt.Errorf("rule message from %s has no rule", record.URL)
			}
			if err := d.queries.AppendTaskRule(ctx, record.WorkflowRunID, record.TaskOrder, *message.Rule); err != nil {
				return false, nil, err
			}
		case responseTypeDone:
			metrics.RecordTaskRunDuration(time.Since(started))
			return message.Paused, message.Message, nil
		default:
			metrics.WarnWithContext(ctx, "Ignoring unknown task response type", map[string]interface{}{
				"type": message.Type,
				"url":  record.URL,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return false, nil, fmt.Errorf("read task response stream from %s: %w", record.URL, err)
	}
	return false, nil, ErrExitedTask
}
