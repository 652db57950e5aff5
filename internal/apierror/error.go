// Package apierror defines the typed error taxonomy shared by every
// pipeline layer, and the JSON wire shape for non-2xx responses.
//
// Every error leaving the API has the shape {error, details?, timestamp?}.
// Classification is type-driven: layers construct (or wrap) *Error values
// with an explicit Kind. Substring matching on messages exists only as a
// legacy fallback for errors raised by code that predates the taxonomy.
package apierror

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Kind identifies an error category. Each kind maps to a canonical
// HTTP status code.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found_error"
	KindConflict       Kind = "conflict_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindInternal       Kind = "server_error"
)

// Error is a classified API error. Details is included in the response
// body only when set; validation errors always set it.
type Error struct {
	Status  int
	Kind    Kind
	Message string
	Details any
	Stack   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// envelope is the wire shape for all non-2xx responses.
type envelope struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Stack     string `json:"stack,omitempty"`
}

// Write sends an Error as a JSON HTTP response.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)

	env := envelope{
		Error:     e.Message,
		Details:   e.Details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Stack:     e.Stack,
	}
	if encErr := json.NewEncoder(w).Encode(env); encErr != nil {
		slog.Error("failed to encode error response", "err", encErr)
	}
}

// Validation returns a 400 error. details carries the per-field breakdown
// and is always included in the response.
func Validation(msg string, details any) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Kind:    KindValidation,
		Message: msg,
		Details: details,
	}
}

// Unauthorized returns a 401 error for missing or invalid credentials.
func Unauthorized(msg string) *Error {
	return &Error{
		Status:  http.StatusUnauthorized,
		Kind:    KindAuthentication,
		Message: msg,
	}
}

// Forbidden returns a 403 error for authenticated callers lacking access.
func Forbidden(msg string) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Kind:    KindAuthorization,
		Message: msg,
	}
}

// NotFound returns a 404 error.
func NotFound(msg string) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Kind:    KindNotFound,
		Message: msg,
	}
}

// Conflict returns a 409 error for uniqueness or state conflicts.
func Conflict(msg string) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Kind:    KindConflict,
		Message: msg,
	}
}

// RateLimited returns a 429 error when a rate limit window is exhausted.
func RateLimited() *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Kind:    KindRateLimit,
		Message: "Rate limit exceeded. Please retry after a brief wait.",
	}
}

// Internal returns a 500 error for unexpected failures. The message must
// already be sanitized; callers never pass internal details through.
func Internal(msg string) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Kind:    KindInternal,
		Message: msg,
	}
}

// genericMessage is the sanitized body for unclassified failures.
const genericMessage = "An unexpected error occurred."

// FromError classifies an arbitrary error into the taxonomy.
// Typed *Error values pass through unchanged; everything else goes
// through the legacy substring table, then defaults to a sanitized 500.
func FromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if e := classifyLegacy(err.Error()); e != nil {
		return e
	}
	return Internal(genericMessage)
}

// FromPanic classifies a recovered panic value. Non-error panics are
// never classified; the caller logs the raw value separately.
func FromPanic(v any) *Error {
	if err, ok := v.(error); ok {
		return FromError(err)
	}
	return Internal(genericMessage)
}

// legacyRule maps a message substring to a canned taxonomy error. This
// table exists only for errors produced outside the taxonomy (database
// driver messages and the like); matching is ambiguous by nature and is
// deliberately the last resort before the 500 default.
type legacyRule struct {
	substr string
	canned *Error
}

var legacyRules = []legacyRule{
	{"duplicate key", Conflict("Resource already exists")},
	{"foreign key", Validation("Invalid reference to a related resource", nil)},
	{"not found", NotFound("Resource not found")},
	{"unauthorized", Unauthorized("Authentication required")},
	{"forbidden", Forbidden("Access denied")},
	{"rate limit", RateLimited()},
}

func classifyLegacy(msg string) *Error {
	lower := strings.ToLower(msg)
	for _, rule := range legacyRules {
		if strings.Contains(lower, rule.substr) {
			return rule.canned
		}
	}
	return nil
}
