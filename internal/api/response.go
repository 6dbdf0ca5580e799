package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success wraps a result.
func Success(result any) Response {
	return Response{Status: StatusOK, Result: result}
}

// SuccessWithMessage wraps a result with a message.
func SuccessWithMessage(message string, result any) Response {
	return Response{Status: StatusOK, Message: message, Result: result}
}

// Error builds an error envelope.
func Error(message string) Response {
	return Response{Status: StatusError, Message: message}
}

var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals before writing headers so an encoding failure still yields a
// well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidDraft):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrMissingIdentity):
		return http.StatusPreconditionFailed
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrParticipantDeleted):
		return http.StatusGone
	case errors.Is(err, models.ErrAlreadyUploaded), models.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, models.ErrOverrideDateRequired):
		return http.StatusUnprocessableEntity
	case models.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status matching err. Internal errors keep their detail in the
// log only.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Server."+op+": internal error", "error", err)
		writeJSONResponse(w, status, Error("Internal server error"))
		return
	}
	slog.Warn("Server."+op+": request failed", "status", status, "error", err)
	writeJSONResponse(w, status, Error(err.Error()))
}
