package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/telemetry-core/internal/auth"
	"github.com/nerrad567/telemetry-core/internal/device"
	"github.com/nerrad567/telemetry-core/internal/infrastructure/database"
	"github.com/nerrad567/telemetry-core/internal/telemetry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// invalidRequestMessage is the only message a 422 carries. Field-level
// detail stays in the server log.
const invalidRequestMessage = "Invalid request data"

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeValidationError writes the generic 422 response.
func writeValidationError(w http.ResponseWriter) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, invalidRequestMessage)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classifyError maps a domain error to its HTTP status, code and message.
func classifyError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "device not found"
	case errors.Is(err, auth.ErrKeyNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "api key not found"
	case errors.Is(err, telemetry.ErrRecordNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "telemetry record not found"

	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized, "invalid device credentials"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden, "admin access required"

	case errors.Is(err, auth.ErrKeyExists):
		return http.StatusConflict, ErrCodeConflict, "device already has an api key"
	case errors.Is(err, device.ErrDeviceExists):
		return http.StatusConflict, ErrCodeConflict, "device name already in use"
	case errors.Is(err, device.ErrDeviceHasTelemetry):
		return http.StatusConflict, ErrCodeConflict, "device has telemetry records"

	case isValidationError(err):
		return http.StatusUnprocessableEntity, ErrCodeValidation, invalidRequestMessage

	case database.IsConstraintViolation(err):
		return http.StatusConflict, ErrCodeConflict, "request conflicts with stored data"
	}
	return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
}

func isValidationError(err error) bool {
	for _, target := range []error{
		device.ErrInvalidDevice,
		device.ErrInvalidName,
		device.ErrInvalidDescription,
		device.ErrInvalidNotes,
		device.ErrInvalidPagination,
		telemetry.ErrInvalidPayload,
		telemetry.ErrInvalidPagination,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeDomainError classifies err and writes the response. Unclassified
// errors are logged since the client only sees a generic 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	switch {
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		s.logger.Warn("request rejected",
			"path", r.URL.Path,
			"reason", err,
			"request_id", requestIDFrom(r.Context()),
		)
	}
	writeError(w, status, code, message)
}
