package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the uniform error body. Error is the machine-readable
// code; Message is safe to show to end users.
type ErrorResponse struct {
	Error             string     `json:"error"`
	Message           string     `json:"message"`
	RemainingAttempts *int       `json:"remaining_attempts,omitempty"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONError(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

// WriteAttemptsError reports a failed credential check along with the
// number of attempts remaining before lockout.
func WriteAttemptsError(w http.ResponseWriter, errorCode, message string, remaining int) {
	writeJSONError(w, http.StatusUnauthorized, ErrorResponse{
		Error:             errorCode,
		Message:           message,
		RemainingAttempts: &remaining,
	})
}

// WriteLocked reports an active lockout. Retry-After carries the seconds
// until the lock expires so well-behaved clients can back off.
func WriteLocked(w http.ResponseWriter, message string, until time.Time) {
	if secs := int(time.Until(until).Seconds()); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSONError(w, http.StatusTooManyRequests, ErrorResponse{
		Error:       "account_locked",
		Message:     message,
		LockedUntil: &until,
	})
}

func writeJSONError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteGone(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, "expired", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
