package proclog

import "time"

// Event type and status values accepted by the server.
const (
	TypeProcessStart = "PROCESS_START"
	TypeStep         = "STEP"
	TypeProcessEnd   = "PROCESS_END"
	TypeError        = "ERROR"

	StatusSuccess    = "SUCCESS"
	StatusFailure    = "FAILURE"
	StatusInProgress = "IN_PROGRESS"
	StatusSkipped    = "SKIPPED"
)

// Event is one process event as sent on the wire. Field names match the
// server's v1 JSON contract.
//
//nolint:tagliatelle
type Event struct {
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
