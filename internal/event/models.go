// Package event provides the domain model for business-process events.
//
// An Event is an immutable record of one observable occurrence inside a
// business process: the process starting, an intermediate step, the process
// ending, or an error. Events are grouped by correlation id (one logical
// process instance), linked into distributed traces via trace/span ids, and
// optionally tied to a business account either directly or through a
// late-bound correlation link.
package event

import "time"

type (
	// Event is the domain model for a single process event.
	//
	// This is a pure domain type without JSON tags. The API layer defines its
	// own request/response shapes and maps to this type, decoupling the wire
	// contract from internal semantics.
	//
	// Events are append-only: once stored, no field other than the soft-delete
	// flag is ever mutated.
	Event struct {
		// ExecutionID is the server-assigned unique identifier (UUID).
		// Empty on the producer side; populated by the store on insert.
		ExecutionID string

		// CorrelationID groups all events of one process instance.
		// Producer-chosen, required, 1-200 chars.
		CorrelationID string

		// TraceID is the distributed-trace identifier. A trace may span
		// multiple correlations. Required, 1-200 chars.
		TraceID string

		// SpanID identifies this operation within the trace (opaque hex,
		// up to 64 chars). ParentSpanID is optional.
		SpanID       string
		ParentSpanID string

		// SpanLinks lists span ids joined at this event (fork-join).
		SpanLinks []string

		// AccountID is the business account this event concerns. May be empty
		// when the account is learned later via a correlation link.
		AccountID string

		// BatchID groups many process instances submitted together.
		BatchID string

		// ApplicationID, OriginatingSystem and TargetSystem label the
		// producer, caller and callee. All required, up to 200 chars.
		ApplicationID     string
		OriginatingSystem string
		TargetSystem      string

		// ProcessName names the logical process (required). StepSequence and
		// StepName position this event inside the process taxonomy.
		ProcessName  string
		StepSequence int
		StepName     string

		// EventType is one of PROCESS_START, STEP, PROCESS_END, ERROR.
		EventType Type

		// EventStatus is one of SUCCESS, FAILURE, IN_PROGRESS, SKIPPED.
		EventStatus Status

		// Identifiers maps domain keys to string values (e.g. employee_id).
		// Required but may be empty.
		Identifiers map[string]string

		// Metadata holds arbitrary producer-supplied JSON values.
		Metadata map[string]interface{}

		// Summary is the human-readable narrative (required).
		// Result is a short outcome code.
		Summary string
		Result  string

		// EventTimestamp is the producer wall-clock time of the event.
		EventTimestamp time.Time

		// HTTP extras, all optional.
		Endpoint        string
		HTTPMethod      HTTPMethod
		HTTPStatusCode  int
		RequestPayload  string
		ResponsePayload string

		// Error extras, optional. Expected on ERROR events with FAILURE status.
		ErrorCode    string
		ErrorMessage string

		// ExecutionTimeMs is the operation duration in milliseconds.
		// Zero means not supplied; negative values are rejected.
		ExecutionTimeMs int64

		// IdempotencyKey is the producer-chosen deduplication key. When a key
		// is replayed the store returns the original ExecutionID instead of
		// inserting a new row.
		IdempotencyKey string

		// IsDeleted marks soft-deleted rows. All read paths filter these out.
		IsDeleted bool
	}

	// Type classifies the position of an event inside a process.
	Type string

	// Status is the outcome of the step or process the event describes.
	Status string

	// HTTPMethod is the optional HTTP verb attached to an event.
	HTTPMethod string

	// CorrelationLink is the late-bound relation from a correlation id to a
	// business account. One row per correlation id; duplicate binds are
	// idempotent upserts.
	CorrelationLink struct {
		CorrelationID string
		AccountID     string
		ApplicationID string
		CustomerID    string
		CardLast4     string
		LinkedAt      time.Time
	}

	// ProcessDefinition is a static catalog row describing a known process.
	ProcessDefinition struct {
		ProcessName   string
		OwningTeam    string
		ExpectedSteps int
		SLASeconds    int
		Description   string
	}

	// AccountTimelineSummary is the per-account materialized aggregate.
	// Read-only from the core's perspective; population is external and
	// summaries may be stale or absent.
	AccountTimelineSummary struct {
		AccountID            string
		FirstEventAt         time.Time
		LastEventAt          time.Time
		TotalEvents          int64
		TotalProcesses       int64
		FailureCount         int64
		SystemsTouched       []string
		RecentCorrelationIDs []string
		UpdatedAt            time.Time
	}
)

const (
	// TypeProcessStart marks the beginning of a process instance.
	// Implies step sequence 0 and status SUCCESS or IN_PROGRESS.
	TypeProcessStart Type = "PROCESS_START"

	// TypeStep marks an intermediate step inside a process.
	TypeStep Type = "STEP"

	// TypeProcessEnd marks the terminal event of a process instance.
	// Implies status SUCCESS or FAILURE.
	TypeProcessEnd Type = "PROCESS_END"

	// TypeError records an error observed during the process.
	TypeError Type = "ERROR"
)

const (
	// StatusSuccess indicates the step or process completed successfully.
	StatusSuccess Status = "SUCCESS"

	// StatusFailure indicates the step or process failed.
	StatusFailure Status = "FAILURE"

	// StatusInProgress indicates work is still underway.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusSkipped indicates the step was deliberately not executed.
	StatusSkipped Status = "SKIPPED"
)

// ValidTypes returns all valid event types.
func ValidTypes() []Type {
	return []Type{TypeProcessStart, TypeStep, TypeProcessEnd, TypeError}
}

// IsValid checks if the Type is a known event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeProcessStart, TypeStep, TypeProcessEnd, TypeError:
		return true
	default:
		return false
	}
}

// ValidStatuses returns all valid event statuses.
func ValidStatuses() []Status {
	return []Status{StatusSuccess, StatusFailure, StatusInProgress, StatusSkipped}
}

// IsValid checks if the Status is a known event status.
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusInProgress, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final outcome for a process.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// IsValid checks if the HTTPMethod is one of the allowed verbs.
// The empty method is valid (the field is optional).
func (m HTTPMethod) IsValid() bool {
	switch m {
	case "", "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}

// String returns the string representation of the event type.
func (t Type) String() string { return string(t) }

// String returns the string representation of the event status.
func (s Status) String() string { return string(s) }
