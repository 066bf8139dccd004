package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/identity"
	"github.com/chemforge-inc/chemforge-engine/pkg/logging"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// ErrorResponse writes a failed envelope and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, message, details string) error {
	return WriteJSON(w, statusCode, Envelope{Success: false, Error: message, Details: details})
}

// SuccessResponse writes a successful envelope around data.
func SuccessResponse(w http.ResponseWriter, statusCode int, data any) error {
	return WriteJSON(w, statusCode, Envelope{Success: true, Data: data})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// MethodNotAllowed writes 405 with the Allow header set.
func MethodNotAllowed(w http.ResponseWriter, allow string) error {
	w.Header().Set("Allow", allow)
	return ErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "")
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest), errors.Is(err, apperrors.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrTenantSuspended):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrTenantNotProvisioned):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps err to a status and writes the envelope. Client
// errors carry the error text; internal errors carry fallback plus the
// sanitized cause in details.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	status := statusFor(err)

	var writeErr error
	if status == http.StatusInternalServerError {
		details := logging.SanitizeError(err)
		logger.Error(fallback, zap.String("error", details))
		writeErr = ErrorResponse(w, status, fallback, details)
	} else {
		writeErr = ErrorResponse(w, status, err.Error(), "")
	}
	if writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}
