package api

import (
	"strings"
	"time"

	"github.com/procpulse-io/procpulse/internal/event"
)

// Wire types for the v1 API. These are kept separate from the domain model
// (event.Event) to decouple the JSON contract from internal semantics; the
// mapping functions below are the only bridge between the two.
//
// All field names are snake_case on the wire.
//
//nolint:tagliatelle
type (
	// EventPayload is one event as submitted by a producer or returned by a
	// query endpoint. execution_id is ignored on input and always present on
	// output.
	EventPayload struct {
		ExecutionID       string                 `json:"execution_id,omitempty"`
		CorrelationID     string                 `json:"correlation_id"`
		TraceID           string                 `json:"trace_id"`
		SpanID            string                 `json:"span_id,omitempty"`
		ParentSpanID      string                 `json:"parent_span_id,omitempty"`
		SpanLinks         []string               `json:"span_links,omitempty"`
		AccountID         string                 `json:"account_id,omitempty"`
		BatchID           string                 `json:"batch_id,omitempty"`
		ApplicationID     string                 `json:"application_id"`
		OriginatingSystem string                 `json:"originating_system"`
		TargetSystem      string                 `json:"target_system"`
		ProcessName       string                 `json:"process_name"`
		StepSequence      int                    `json:"step_sequence"`
		StepName          string                 `json:"step_name,omitempty"`
		EventType         string                 `json:"event_type"`
		EventStatus       string                 `json:"event_status"`
		Identifiers       map[string]string      `json:"identifiers"`
		Metadata          map[string]interface{} `json:"metadata,omitempty"`
		Summary           string                 `json:"summary"`
		Result            string                 `json:"result,omitempty"`
		EventTimestamp    time.Time              `json:"event_timestamp"`
		Endpoint          string                 `json:"endpoint,omitempty"`
		HTTPMethod        string                 `json:"http_method,omitempty"`
		HTTPStatusCode    int                    `json:"http_status_code,omitempty"`
		RequestPayload    string                 `json:"request_payload,omitempty"`
		ResponsePayload   string                 `json:"response_payload,omitempty"`
		ErrorCode         string                 `json:"error_code,omitempty"`
		ErrorMessage      string                 `json:"error_message,omitempty"`
		ExecutionTimeMs   int64                  `json:"execution_time_ms,omitempty"`
		IdempotencyKey    string                 `json:"idempotency_key,omitempty"`
	}

	// IngestResponse answers POST /v1/events. ExecutionIDs is in input order;
	// failed rows carry an empty string at their index and an entry in Errors.
	IngestResponse struct {
		ExecutionIDs []string            `json:"execution_ids"`
		Errors       []event.InsertError `json:"errors,omitempty"`
	}

	// BatchIngestResponse answers POST /v1/events/batch.
	BatchIngestResponse struct {
		BatchID        string              `json:"batch_id"`
		ExecutionIDs   []string            `json:"execution_ids"`
		Errors         []event.InsertError `json:"errors"`
		TotalInserted  int                 `json:"total_inserted"`
		CorrelationIDs []string            `json:"correlation_ids"`
	}

	// CorrelationResponse answers GET /v1/events/correlation/{id}.
	// account_id comes from the correlation link when one exists.
	CorrelationResponse struct {
		CorrelationID string         `json:"correlation_id"`
		Events        []EventPayload `json:"events"`
		AccountID     string         `json:"account_id,omitempty"`
		IsLinked      bool           `json:"is_linked"`
	}

	// TraceResponse answers GET /v1/events/trace/{id}.
	TraceResponse struct {
		TraceID         string         `json:"trace_id"`
		Events          []EventPayload `json:"events"`
		SystemsInvolved []string       `json:"systems_involved"`
		TotalDurationMs int64          `json:"total_duration_ms"`
	}

	// PagedEventsResponse is the shared shape for paginated event listings.
	PagedEventsResponse struct {
		Events     []EventPayload `json:"events"`
		Page       int            `json:"page"`
		PageSize   int            `json:"page_size"`
		TotalCount int64          `json:"total_count"`
		HasMore    bool           `json:"has_more"`
	}

	// BatchEventsResponse answers GET /v1/events/batch/{id}.
	BatchEventsResponse struct {
		BatchID string `json:"batch_id"`
		PagedEventsResponse

		UniqueCorrelationIDs int64 `json:"unique_correlation_ids"`
		SuccessCount         int64 `json:"success_count"`
		FailureCount         int64 `json:"failure_count"`
	}

	// BatchSummaryResponse answers GET /v1/events/batch/{id}/summary.
	BatchSummaryResponse struct {
		BatchID        string    `json:"batch_id"`
		TotalProcesses int64     `json:"total_processes"`
		Completed      int64     `json:"completed"`
		Failed         int64     `json:"failed"`
		InProgress     int64     `json:"in_progress"`
		CorrelationIDs []string  `json:"correlation_ids"`
		FirstEventAt   time.Time `json:"first_event_at"`
		LastEventAt    time.Time `json:"last_event_at"`
	}

	// LinkRequest is the body of POST /v1/correlation-links.
	LinkRequest struct {
		CorrelationID string `json:"correlation_id"`
		AccountID     string `json:"account_id"`
		ApplicationID string `json:"application_id,omitempty"`
		CustomerID    string `json:"customer_id,omitempty"`
		CardLast4     string `json:"card_last4,omitempty"`
	}

	// LinkResponse echoes the stored correlation link.
	LinkResponse struct {
		CorrelationID string    `json:"correlation_id"`
		AccountID     string    `json:"account_id"`
		ApplicationID string    `json:"application_id,omitempty"`
		CustomerID    string    `json:"customer_id,omitempty"`
		CardLast4     string    `json:"card_last4,omitempty"`
		LinkedAt      time.Time `json:"linked_at"`
	}

	// ProcessDefinitionResponse is one catalog row.
	ProcessDefinitionResponse struct {
		ProcessName   string `json:"process_name"`
		OwningTeam    string `json:"owning_team,omitempty"`
		ExpectedSteps int    `json:"expected_steps,omitempty"`
		SLASeconds    int    `json:"sla_seconds,omitempty"`
		Description   string `json:"description,omitempty"`
	}

	// AccountSummaryResponse answers GET /v1/accounts/{id}/summary.
	AccountSummaryResponse struct {
		AccountID            string    `json:"account_id"`
		FirstEventAt         time.Time `json:"first_event_at"`
		LastEventAt          time.Time `json:"last_event_at"`
		TotalEvents          int64     `json:"total_events"`
		TotalProcesses       int64     `json:"total_processes"`
		FailureCount         int64     `json:"failure_count"`
		SystemsTouched       []string  `json:"systems_touched"`
		RecentCorrelationIDs []string  `json:"recent_correlation_ids"`
		UpdatedAt            time.Time `json:"updated_at"`
	}
)

// mapEventPayload maps a wire payload to the domain model.
// String fields are whitespace-trimmed; validation is delegated to the
// domain validator, which owns the invariants.
func mapEventPayload(p *EventPayload) *event.Event {
	return &event.Event{
		CorrelationID:     strings.TrimSpace(p.CorrelationID),
		TraceID:           strings.TrimSpace(p.TraceID),
		SpanID:            strings.TrimSpace(p.SpanID),
		ParentSpanID:      strings.TrimSpace(p.ParentSpanID),
		SpanLinks:         p.SpanLinks,
		AccountID:         strings.TrimSpace(p.AccountID),
		BatchID:           strings.TrimSpace(p.BatchID),
		ApplicationID:     strings.TrimSpace(p.ApplicationID),
		OriginatingSystem: strings.TrimSpace(p.OriginatingSystem),
		TargetSystem:      strings.TrimSpace(p.TargetSystem),
		ProcessName:       strings.TrimSpace(p.ProcessName),
		StepSequence:      p.StepSequence,
		StepName:          strings.TrimSpace(p.StepName),
		EventType:         event.Type(strings.TrimSpace(p.EventType)),
		EventStatus:       event.Status(strings.TrimSpace(p.EventStatus)),
		Identifiers:       p.Identifiers,
		Metadata:          p.Metadata,
		Summary:           strings.TrimSpace(p.Summary),
		Result:            strings.TrimSpace(p.Result),
		EventTimestamp:    p.EventTimestamp,
		Endpoint:          strings.TrimSpace(p.Endpoint),
		HTTPMethod:        event.HTTPMethod(strings.ToUpper(strings.TrimSpace(p.HTTPMethod))),
		HTTPStatusCode:    p.HTTPStatusCode,
		RequestPayload:    p.RequestPayload,
		ResponsePayload:   p.ResponsePayload,
		ErrorCode:         strings.TrimSpace(p.ErrorCode),
		ErrorMessage:      p.ErrorMessage,
		ExecutionTimeMs:   p.ExecutionTimeMs,
		IdempotencyKey:    strings.TrimSpace(p.IdempotencyKey),
	}
}

// toEventPayload maps a stored domain event back to the wire shape.
func toEventPayload(e *event.Event) EventPayload {
	return EventPayload{
		ExecutionID:       e.ExecutionID,
		CorrelationID:     e.CorrelationID,
		TraceID:           e.TraceID,
		SpanID:            e.SpanID,
		ParentSpanID:      e.ParentSpanID,
		SpanLinks:         e.SpanLinks,
		AccountID:         e.AccountID,
		BatchID:           e.BatchID,
		ApplicationID:     e.ApplicationID,
		OriginatingSystem: e.OriginatingSystem,
		TargetSystem:      e.TargetSystem,
		ProcessName:       e.ProcessName,
		StepSequence:      e.StepSequence,
		StepName:          e.StepName,
		EventType:         e.EventType.String(),
		EventStatus:       e.EventStatus.String(),
		Identifiers:       e.Identifiers,
		Metadata:          e.Metadata,
		Summary:           e.Summary,
		Result:            e.Result,
		EventTimestamp:    e.EventTimestamp,
		Endpoint:          e.Endpoint,
		HTTPMethod:        string(e.HTTPMethod),
		HTTPStatusCode:    e.HTTPStatusCode,
		RequestPayload:    e.RequestPayload,
		ResponsePayload:   e.ResponsePayload,
		ErrorCode:         e.ErrorCode,
		ErrorMessage:      e.ErrorMessage,
		ExecutionTimeMs:   e.ExecutionTimeMs,
		IdempotencyKey:    e.IdempotencyKey,
	}
}

// toEventPayloads maps a slice of stored events, never returning nil so the
// wire always carries an array.
func toEventPayloads(events []event.Event) []EventPayload {
	payloads := make([]EventPayload, len(events))
	for i := range events {
		payloads[i] = toEventPayload(&events[i])
	}

	return payloads
}

// toPagedResponse maps a storage page to the shared wire shape.
func toPagedResponse(page *event.PagedEvents) PagedEventsResponse {
	return PagedEventsResponse{
		Events:     toEventPayloads(page.Events),
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore(),
	}
}
