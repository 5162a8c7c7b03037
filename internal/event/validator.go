// Package event provides domain validation for process events.
package event

import (
	"errors"
	"fmt"
	"strings"
)

// Field length limits enforced at the domain boundary.
const (
	maxCorrelationIDLen = 200
	maxTraceIDLen       = 200
	maxSpanIDLen        = 64
	maxAccountIDLen     = 64
	maxLabelLen         = 200
	maxOutcomeLen       = 2048
)

// Sentinel errors for validation failures.
var (
	ErrNilEvent           = errors.New("event cannot be nil")
	ErrInvalidEventType   = errors.New("invalid event_type")
	ErrInvalidEventStatus = errors.New("invalid event_status")
	ErrInvalidHTTPMethod  = errors.New("invalid http_method")
	ErrEventInvalid       = errors.New("event failed validation")
)

type (
	// FieldError describes a single invalid field in an event. The API layer
	// serializes these directly into 400 response bodies.
	FieldError struct {
		Field string `json:"field"`
		Error string `json:"error"`
	}

	// Validator performs semantic validation of process events.
	//
	// Validation is semantic (business rules over a decoded struct) rather
	// than schema-based; the wire shape is simple enough that a JSON schema
	// layer would add cost without catching anything extra.
	Validator struct{}
)

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateEvent checks all required fields, length limits, enums and
// type/status invariants. It returns every violation found, not just the
// first, so a 400 response can enumerate all problems in one round trip.
//
// Enforced invariants:
//   - PROCESS_START implies step_sequence = 0 and status SUCCESS or IN_PROGRESS
//   - PROCESS_END implies status SUCCESS or FAILURE
//   - http_method, when present, is one of the seven allowed verbs
//
// A nil return means the event is valid.
func (v *Validator) ValidateEvent(e *Event) []FieldError {
	if e == nil {
		return []FieldError{{Field: "event", Error: ErrNilEvent.Error()}}
	}

	var errs []FieldError

	errs = appendRequired(errs, "correlation_id", e.CorrelationID, maxCorrelationIDLen)
	errs = appendRequired(errs, "trace_id", e.TraceID, maxTraceIDLen)
	errs = appendOptional(errs, "span_id", e.SpanID, maxSpanIDLen)
	errs = appendOptional(errs, "parent_span_id", e.ParentSpanID, maxSpanIDLen)
	errs = appendOptional(errs, "account_id", e.AccountID, maxAccountIDLen)
	errs = appendRequired(errs, "application_id", e.ApplicationID, maxLabelLen)
	errs = appendRequired(errs, "originating_system", e.OriginatingSystem, maxLabelLen)
	errs = appendRequired(errs, "target_system", e.TargetSystem, maxLabelLen)
	errs = appendRequired(errs, "process_name", e.ProcessName, maxLabelLen)
	errs = appendOptional(errs, "result", e.Result, maxOutcomeLen)
	errs = appendOptional(errs, "error_message", e.ErrorMessage, maxOutcomeLen)

	if strings.TrimSpace(e.Summary) == "" {
		errs = append(errs, FieldError{Field: "summary", Error: "summary is required"})
	}

	if !e.EventType.IsValid() {
		errs = append(errs, FieldError{
			Field: "event_type",
			Error: fmt.Sprintf("%s: got %q (valid: PROCESS_START, STEP, PROCESS_END, ERROR)", ErrInvalidEventType, e.EventType),
		})
	}

	if !e.EventStatus.IsValid() {
		errs = append(errs, FieldError{
			Field: "event_status",
			Error: fmt.Sprintf("%s: got %q (valid: SUCCESS, FAILURE, IN_PROGRESS, SKIPPED)", ErrInvalidEventStatus, e.EventStatus),
		})
	}

	if !e.HTTPMethod.IsValid() {
		errs = append(errs, FieldError{
			Field: "http_method",
			Error: fmt.Sprintf("%s: got %q (valid: GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS)", ErrInvalidHTTPMethod, e.HTTPMethod),
		})
	}

	if e.Identifiers == nil {
		errs = append(errs, FieldError{Field: "identifiers", Error: "identifiers is required (may be empty)"})
	}

	if e.EventTimestamp.IsZero() {
		errs = append(errs, FieldError{Field: "event_timestamp", Error: "event_timestamp is required"})
	}

	if e.StepSequence < 0 {
		errs = append(errs, FieldError{Field: "step_sequence", Error: "step_sequence cannot be negative"})
	}

	if e.ExecutionTimeMs < 0 {
		errs = append(errs, FieldError{Field: "execution_time_ms", Error: "execution_time_ms cannot be negative"})
	}

	errs = append(errs, v.validateTypeInvariants(e)...)

	return errs
}

// validateTypeInvariants enforces the cross-field rules between event type,
// step sequence and status.
func (v *Validator) validateTypeInvariants(e *Event) []FieldError {
	var errs []FieldError

	switch e.EventType {
	case TypeProcessStart:
		if e.StepSequence != 0 {
			errs = append(errs, FieldError{
				Field: "step_sequence",
				Error: "PROCESS_START events must have step_sequence 0",
			})
		}

		if e.EventStatus != StatusSuccess && e.EventStatus != StatusInProgress {
			errs = append(errs, FieldError{
				Field: "event_status",
				Error: "PROCESS_START status must be SUCCESS or IN_PROGRESS",
			})
		}
	case TypeProcessEnd:
		if e.EventStatus != StatusSuccess && e.EventStatus != StatusFailure {
			errs = append(errs, FieldError{
				Field: "event_status",
				Error: "PROCESS_END status must be SUCCESS or FAILURE",
			})
		}
	case TypeStep, TypeError:
		// No cross-field constraints.
	}

	return errs
}

// ValidationError flattens a list of field errors into a single error value
// for callers that do not need per-field granularity (storage layer, SDK).
func ValidationError(errs []FieldError) error {
	if len(errs) == 0 {
		return nil
	}

	parts := make([]string, len(errs))
	for i, fe := range errs {
		parts[i] = fe.Field + ": " + fe.Error
	}

	return fmt.Errorf("%w: %s", ErrEventInvalid, strings.Join(parts, "; "))
}

func appendRequired(errs []FieldError, field, value string, maxLen int) []FieldError {
	if strings.TrimSpace(value) == "" {
		return append(errs, FieldError{Field: field, Error: field + " is required"})
	}

	return appendOptional(errs, field, value, maxLen)
}

func appendOptional(errs []FieldError, field, value string, maxLen int) []FieldError {
	if len(value) > maxLen {
		return append(errs, FieldError{
			Field: field,
			Error: fmt.Sprintf("%s exceeds maximum length of %d characters", field, maxLen),
		})
	}

	return errs
}
