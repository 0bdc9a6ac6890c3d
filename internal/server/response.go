package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atelier-dev/atelier/internal/executor"
	"github.com/atelier-dev/atelier/internal/registry"
	"github.com/atelier-dev/atelier/internal/security"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeLimitReached     = "LIMIT_REACHED"
	ErrCodePathInUse        = "PATH_IN_USE"
	ErrCodeBoundary         = "ESCAPES_BOUNDARY"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeDomainError maps a runtime error onto the wire taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, security.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, registry.ErrLimitReached):
		writeError(w, http.StatusConflict, ErrCodeLimitReached, err.Error())
	case errors.Is(err, registry.ErrPathInUse), errors.Is(err, registry.ErrIDExists):
		writeError(w, http.StatusConflict, ErrCodePathInUse, err.Error())
	case errors.Is(err, security.ErrEscapesBoundary):
		writeError(w, http.StatusForbidden, ErrCodeBoundary, err.Error())
	case errors.Is(err, security.ErrNotAllowed), errors.Is(err, executor.ErrDenied):
		writeError(w, http.StatusForbidden, ErrCodePermissionDenied, err.Error())
	case errors.Is(err, executor.ErrInvalidSessionID), errors.Is(err, executor.ErrUnknownTool):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
