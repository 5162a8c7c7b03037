package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/procpulse-io/procpulse/internal/api/middleware"
	"github.com/procpulse-io/procpulse/internal/event"
)

// ProblemDetail represents an RFC 7807 Problem Details structure with two
// extensions: a stable machine-readable error code and per-field validation
// errors for validation failures.
// See https://tools.ietf.org/html/rfc7807 for the base specification.
type ProblemDetail struct {
	Type        string             `json:"type"`
	Title       string             `json:"title"`
	Status      int                `json:"status"`
	Detail      string             `json:"detail,omitempty"`
	Instance    string             `json:"instance,omitempty"`
	RequestID   string             `json:"request_id,omitempty"`   //nolint: tagliatelle
	ErrorCode   string             `json:"error_code,omitempty"`   //nolint: tagliatelle
	FieldErrors []event.FieldError `json:"field_errors,omitempty"` //nolint: tagliatelle
}

// Stable error codes carried in the error_code extension. Clients switch on
// these rather than on detail strings.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeDuplicateKey     = "DUPLICATE_KEY"
	CodeNotFound         = "NOT_FOUND"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeStorageFailure   = "STORAGE_FAILURE"
)

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://procpulse.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithInstance adds an instance URI to the problem detail.
func (p *ProblemDetail) WithInstance(instance string) *ProblemDetail {
	p.Instance = instance

	return p
}

// WithErrorCode adds a stable machine-readable error code.
func (p *ProblemDetail) WithErrorCode(code string) *ProblemDetail {
	p.ErrorCode = code

	return p
}

// WithFieldErrors attaches per-field validation errors.
func (p *ProblemDetail) WithFieldErrors(fieldErrors []event.FieldError) *ProblemDetail {
	p.FieldErrors = fieldErrors

	return p
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	requestID := middleware.GetRequestID(r.Context())

	if problem.RequestID == "" {
		problem.RequestID = requestID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		// Fallback to basic error response
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusInternalServerError,
		"Internal Server Error",
		detail,
	)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusBadRequest,
		"Bad Request",
		detail,
	)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusNotFound,
		"Not Found",
		detail,
	).WithErrorCode(CodeNotFound)
}

// MethodNotAllowed creates a 405 Method Not Allowed problem.
func MethodNotAllowed(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusMethodNotAllowed,
		"Method Not Allowed",
		detail,
	)
}

// Conflict creates a 409 Conflict problem.
func Conflict(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusConflict,
		"Conflict",
		detail,
	).WithErrorCode(CodeDuplicateKey)
}

// ValidationFailed creates a 400 Bad Request problem carrying the stable
// validation error code. Callers attach field errors with WithFieldErrors.
func ValidationFailed(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusBadRequest,
		"Bad Request",
		detail,
	).WithErrorCode(CodeValidationFailed)
}

// UnsupportedMediaType creates a 415 Unsupported Media Type problem.
func UnsupportedMediaType(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnsupportedMediaType,
		"Unsupported Media Type",
		detail,
	)
}

// PayloadTooLarge creates a 413 Payload Too Large problem.
func PayloadTooLarge(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusRequestEntityTooLarge,
		"Payload Too Large",
		detail,
	).WithErrorCode(CodePayloadTooLarge)
}

// ServiceUnavailable creates a 503 Service Unavailable problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusServiceUnavailable,
		"Service Unavailable",
		detail,
	)
}
