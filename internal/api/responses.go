package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	app_errors "polychat/internal/errors"
)

// This file contains shared DTOs for API responses and helpers for sending
// consistent HTTP and SSE responses.

// ErrorResponse defines the standard JSON structure for error messages.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is returned by operations that have no resource to send back.
type StatusResponse struct {
	Status string `json:"status"`
}

// UpdateTitleRequest is the DTO for the manual chat title update endpoint.
type UpdateTitleRequest struct {
	Title string `json:"title" validate:"required,min=1,max=100" example:"My Custom Chat Title"`
}

// BranchRequest names the last message copied into the new chat.
type BranchRequest struct {
	MessageID string `json:"message_id" validate:"required" example:"3f1c2a9e-6a51-4a43-b0a4-0d3c1f5b2e11"`
}

// SettingValue is a single raw setting.
type SettingValue struct {
	Key   string `json:"key" example:"selected_model"`
	Value string `json:"value" example:"llama3"`
}

// SetValueRequest is the body of PUT /settings/values/{key}.
type SetValueRequest struct {
	Value string `json:"value"`
}

// respondWithError maps business-layer errors to HTTP status codes and
// writes a standard JSON error body.
func respondWithError(w http.ResponseWriter, err error) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, app_errors.ErrNotFound):
		statusCode = http.StatusNotFound
		message = "The requested resource was not found."
	case errors.Is(err, app_errors.ErrValidation):
		statusCode = http.StatusBadRequest
		// Validation messages from the service layer are already user-facing.
		message = err.Error()
	case errors.Is(err, app_errors.ErrConflict):
		statusCode = http.StatusConflict
		message = "A conflict occurred with the current state of the resource."
	case errors.Is(err, app_errors.ErrPermission):
		statusCode = http.StatusForbidden
		message = "You do not have permission to perform this action."
	case errors.Is(err, app_errors.ErrProviderUnavailable):
		statusCode = http.StatusBadGateway
		message = err.Error()
	default:
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal server error occurred."
	}

	zap.L().Warn("Responding with error",
		zap.Int("status_code", statusCode),
		zap.String("client_message", message),
		zap.Error(err),
	)
	respondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondWithJSON marshals payload and writes it with the given status code.
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("Failed to marshal JSON response", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		zap.L().Error("Failed to write JSON response", zap.Error(err))
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sendStreamError sends a structured error over an SSE stream as an
// `event: error` message.
func sendStreamError(w http.ResponseWriter, message string) {
	zap.L().Warn("Sending stream error to client", zap.String("message", message))
	if err := writeNamedEvent(w, "error", ErrorResponse{Error: message}); err != nil {
		zap.L().Warn("Failed to write stream error, client might have disconnected", zap.Error(err))
	}
}

// writeStreamEvent marshals data and writes it as an unnamed SSE event.
// A returned error means the client has gone away.
func writeStreamEvent(w http.ResponseWriter, data any) error {
	return writeNamedEvent(w, "", data)
}

func writeNamedEvent(w http.ResponseWriter, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		zap.L().Error("Failed to marshal stream data to JSON", zap.Error(err))
		// The connection is still fine; only this event is dropped.
		return nil
	}

	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write event to stream: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return fmt.Errorf("failed to write data to stream: %w", err)
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// pipeStream writes every value from ch as an SSE event until ch is closed.
// Values for which isError reports true are sent as `event: error`. When
// the client goes away the rest of ch is drained so the producer can finish.
func pipeStream[T any](w http.ResponseWriter, r *http.Request, ch <-chan T, isError func(T) bool) {
	defer func() {
		for range ch {
		}
	}()

	for chunk := range ch {
		if r.Context().Err() != nil {
			zap.L().Info("Client disconnected during stream", zap.String("path", r.URL.Path))
			return
		}
		event := ""
		if isError(chunk) {
			event = "error"
		}
		if err := writeNamedEvent(w, event, chunk); err != nil {
			zap.L().Warn("Could not write to stream, client likely disconnected", zap.Error(err))
			return
		}
	}
}
