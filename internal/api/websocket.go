/*-------------------------------------------------------------------------
 *
 * websocket.go
 *    WebSocket handler for NeuronFlow API
 *
 * Streams workflow run progress updates to portal clients. One shared
 * LISTEN connection on the wr_progress topic fans out to all connected
 * sockets; clients reconcile by reading the run views on reconnect.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/api/websocket.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/neurondb/NeuronFlow/internal/db"
	"github.com/neurondb/NeuronFlow/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true /* Portal origin enforcement happens at the proxy */
	},
	HandshakeTimeout: 10 * time.Second,
}

const (
	/* WebSocket connection timeouts */
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

/* ProgressUpdate is one streamed progress message */
type ProgressUpdate struct {
	WorkflowRunID uuid.UUID            `json:"workflow_run_id"`
	Status        db.WorkflowRunStatus `json:"status"`
	Progress      *int16               `json:"progress"`
}

/* ProgressHub fans wr_progress notifications out to connected sockets */
type ProgressHub struct {
	queries *db.Queries
	connStr string

	mu          sync.Mutex
	subscribers map[chan ProgressUpdate]struct{}
}

/* NewProgressHub creates a progress hub */
func NewProgressHub(queries *db.Queries, connStr string) *ProgressHub {
	return &ProgressHub{
		queries:     queries,
		connStr:     connStr,
		subscribers: make(map[chan ProgressUpdate]struct{}),
	}
}

/* Run listens on the wr_progress topic until the context ends */
func (h *ProgressHub) Run(ctx context.Context) error {
	listener, err := db.NewListener(h.connStr, db.TopicWorkflowRunProgress)
	if err != nil {
		return err
	}
	defer listener.Close()

	pingTicker := time.NewTicker(time.Minute)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingTicker.C:
			if err := listener.Ping(); err != nil {
				metrics.WarnWithContext(ctx, "Progress listener ping failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		case notification := <-listener.Notifications():
			if notification == nil {
				continue
			}
			runID, err := uuid.Parse(notification.Extra)
			if err != nil {
				metrics.WarnWithContext(ctx, "Cannot parse workflow_run_id from progress notification", map[string]interface{}{
					"payload": notification.Extra,
				})
				continue
			}
			run, err := h.queries.ReadWorkflowRun(ctx, runID)
			if err != nil {
				metrics.WarnWithContext(ctx, "Cannot read run for progress update", map[string]interface{}{
					"workflow_run_id": runID.String(),
					"error":           err.Error(),
				})
				continue
			}
			h.broadcast(ProgressUpdate{
				WorkflowRunID: run.WorkflowRunID,
				Status:        run.Status,
				Progress:      run.Progress,
			})
		}
	}
}

func (h *ProgressHub) broadcast(update ProgressUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for subscriber := range h.subscribers {
		select {
		case subscriber <- update:
		default:
			/* Slow consumer; it reconciles from the views */
		}
	}
}

func (h *ProgressHub) subscribe() chan ProgressUpdate {
	updates := make(chan ProgressUpdate, 16)
	h.mu.Lock()
	h.subscribers[updates] = struct{}{}
	h.mu.Unlock()
	return updates
}

func (h *ProgressHub) unsubscribe(updates chan ProgressUpdate) {
	h.mu.Lock()
	delete(h.subscribers, updates)
	h.mu.Unlock()
}

/* HandleProgressSocket streams progress updates over a websocket */
func (h *ProgressHub) HandleProgressSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.WarnWithContext(r.Context(), "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	defer conn.Close()

	updates := h.subscribe()
	defer h.unsubscribe(updates)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	/* Reader goroutine only services control frames */
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case update := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
