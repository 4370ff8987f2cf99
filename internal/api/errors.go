package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// Common error codes.
const (
	ErrCodeBadRequest     = access.CodeBadRequest
	ErrCodeNotFound       = access.CodeNotFound
	ErrCodeUnauthorized   = access.CodeUnauthorised
	ErrCodeForbidden      = access.CodeForbidden
	ErrCodeConflict       = access.CodeConflict
	ErrCodeInternal       = access.CodeInternal
	ErrCodeValidation     = access.CodeValidation
	ErrCodeMethodNotAllow = "method_not_allowed"

	// ErrCodeWrongPassword is a failed current-password check on a valid
	// session. Clients must not treat it as an expired token.
	ErrCodeWrongPassword = "invalid_current_password"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	access.WriteJSON(w, status, v)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	access.WriteError(w, status, code, message)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// decodeJSON reads the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// writeStoreError maps a domain error to its HTTP status. Anything not
// recognised is logged and reported as a 500 with the generic message.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrRoleNotFound):
		writeNotFound(w, "role not found")
	case errors.Is(err, auth.ErrPermissionNotFound):
		writeNotFound(w, "permission not found")
	case errors.Is(err, auth.ErrEmailExists),
		errors.Is(err, auth.ErrRoleExists),
		errors.Is(err, auth.ErrRoleInUse),
		errors.Is(err, auth.ErrPermissionExists),
		errors.Is(err, auth.ErrPermissionInUse),
		errors.Is(err, auth.ErrSystemRole):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, auth.ErrRegistrationDisabled):
		writeForbidden(w, "registration is disabled")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid credentials")
	default:
		s.logger.Error(message, "error", err, "request_id", access.RequestIDFromContext(r.Context()))
		writeInternalError(w, message)
	}
}
