package models

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// internalErrorBody is written when a response cannot be encoded.
var internalErrorBody = mustMarshal(Error("Internal server error"))

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("models: cannot encode fallback response: " + err.Error())
	}
	return data
}

// WriteJSON encodes v and writes it with status. If v cannot be encoded the client
// gets a 500 with the standard error envelope instead.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("WriteJSON: failed to marshal response", "error", err)
		data, status = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Error("WriteJSON: failed to write response", "error", err)
	}
}
