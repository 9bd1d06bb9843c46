/*-------------------------------------------------------------------------
 *
 * errors.go
 *    API error envelope for NeuronFlow
 *
 * Maps store errors onto HTTP statuses and renders the error response
 * envelope with request-id propagation.
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <support@neurondb.ai>
 *
 * IDENTIFICATION
 *    NeuronFlow/internal/api/errors.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neurondb/NeuronFlow/internal/db"
)

/* APIError carries an HTTP status, a user-facing message and the wrapped
 * cause */
type APIError struct {
	Code      int
	Message   string
	Err       error
	RequestID string
}

/* ErrorResponse is the JSON error envelope */
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

/* NewError creates an API error */
func NewError(code int, message string, err error, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Err:       err,
		RequestID: requestID,
	}
}

/* FromStoreError maps a store error onto the right HTTP status */
func FromStoreError(err error, message, requestID string) *APIError {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, db.ErrInvalidTransition),
		errors.Is(err, db.ErrWorkflowDeprecated),
		errors.Is(err, db.ErrJobPaused),
		errors.Is(err, db.ErrJobNotActive),
		errors.Is(err, db.ErrJobNotDone),
		errors.Is(err, db.ErrInvalidRule),
		errors.Is(err, db.ErrInvalidSchedule),
		errors.Is(err, db.ErrBlankMessage),
		errors.Is(err, db.ErrInvalidProgress),
		errors.Is(err, db.ErrInvalidRequest):
		code = http.StatusBadRequest
	}
	return NewError(code, message, err, requestID)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err *APIError) {
	response := ErrorResponse{
		Error: err.Message,
		Code:  err.Code,
	}
	if err.Err != nil {
		response.Message = err.Err.Error()
	}
	if err.RequestID != "" {
		w.Header().Set("X-Request-ID", err.RequestID)
	}
	respondJSON(w, err.Code, response)
}
