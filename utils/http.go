package utils

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Error codes produced by the HTTP layer itself. Pipeline failures carry
// their services.ErrorType instead.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeRateLimit    = "rate_limit"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Envelope wraps browse, admin and health payloads. Answers to /ask are
// written bare.
type Envelope struct {
	Data  interface{} `json:"data"`
	Count *int        `json:"count,omitempty"`
}

// WriteJSON writes v as JSON with the given status code
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// WriteData writes data inside an Envelope
func WriteData(w http.ResponseWriter, status int, data interface{}) error {
	return WriteJSON(w, status, Envelope{Data: data})
}

// WriteList writes a 200 Envelope carrying items and their count
func WriteList(w http.ResponseWriter, items interface{}, count int) error {
	return WriteJSON(w, http.StatusOK, Envelope{Data: items, Count: &count})
}

// WriteError writes an ErrorResponse
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) error {
	if message == "" {
		message = http.StatusText(status)
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// WriteUnauthorized writes a 401 response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	w.Header().Set("WWW-Authenticate", `Bearer realm="clustertalk"`)
	return WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// WriteForbidden writes a 403 response
func WriteForbidden(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusForbidden, CodeForbidden, message, nil)
}

// WriteNotFound writes a 404 response
func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusNotFound, CodeNotFound, message, nil)
}

// WriteTooManyRequests writes a 429 response. Retry-After is rounded up to
// whole seconds and is at least one.
func WriteTooManyRequests(w http.ResponseWriter, retryAfter time.Duration, details map[string]interface{}) error {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	return WriteError(w, http.StatusTooManyRequests, CodeRateLimit, "rate limit exceeded", details)
}
