package access

import (
	"encoding/json"
	"net/http"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes shared by the identity API and the gateway.
const (
	CodeBadRequest      = "bad_request"
	CodeNotFound        = "not_found"
	CodeUnauthorised    = "unauthorised"
	CodeSubjectNotFound = "subject_not_found"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeValidation      = "validation_error"
	CodeRateLimited     = "rate_limited"
	CodeUnavailable     = "service_unavailable"
	CodeBadGateway      = "bad_gateway"
	CodeInternal        = "internal_error"
)

// Client-visible authentication messages. They never say why a token failed.
const (
	msgAuthRequired = "authentication required"
	msgInvalidToken = "invalid or expired token"
	msgForbidden    = "insufficient permissions"
)

// WriteJSON writes a JSON response with the given status code and payload.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes a structured error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeUnauthorised(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="graylogic"`)
	WriteError(w, http.StatusUnauthorized, CodeUnauthorised, message)
}

func writeForbidden(w http.ResponseWriter) {
	WriteError(w, http.StatusForbidden, CodeForbidden, msgForbidden)
}
