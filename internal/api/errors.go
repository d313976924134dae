package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in Error.Code.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"
	ErrCodeUpstream     = "upstream_error"
	ErrCodeUnavailable  = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// The client may already be gone; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

// writeValidation rejects a well-formed request whose values are unacceptable.
func writeValidation(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, msg)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, msg)
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)
}

func writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msg)
}

// writeUpstream reports that the home-automation backend refused or failed
// a request made on the caller's behalf.
func writeUpstream(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadGateway, ErrCodeUpstream, msg)
}

// writeUnavailable reports a component that is disabled or not ready yet.
func writeUnavailable(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, msg)
}
