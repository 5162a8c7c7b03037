package proclog

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const spanIDBytes = 8

// EventLogger is the sink a ProcessLogger emits into. Logger satisfies it.
type EventLogger interface {
	Log(e Event) bool
}

type (
	// ProcessLogger stamps shared process context onto every emitted event
	// so call sites only supply what changed. Persistent fields stay until
	// changed; one-shot fields apply to the next emit only. Identifiers and
	// metadata stack forward: values added mid-process appear on all
	// subsequent events but never retroactively.
	//
	// Safe for concurrent use, though a process instance is usually driven
	// by one goroutine.
	ProcessLogger struct {
		sink EventLogger

		mu sync.Mutex

		// Persistent fields.
		correlationID     string
		traceID           string
		applicationID     string
		originatingSystem string
		targetSystem      string
		processName       string
		accountID         string
		batchID           string
		identifiers       map[string]string
		metadata          map[string]interface{}

		// Span chain.
		lastSpanID string
		rootSpanID string
		nextParent string // explicit parent override for the next emit

		oneShot oneShotFields
	}

	// oneShotFields are stamped on the next emit only, then cleared.
	oneShotFields struct {
		targetSystem    string
		endpoint        string
		httpMethod      string
		httpStatusCode  int
		requestPayload  string
		responsePayload string
		spanLinks       []string
		executionTimeMs int64
		idempotencyKey  string
	}

	// ProcessOption configures a ProcessLogger at construction.
	ProcessOption func(*ProcessLogger)
)

// WithCorrelationID sets an explicit correlation id. Without it a UUID is
// generated.
func WithCorrelationID(id string) ProcessOption {
	return func(p *ProcessLogger) {
		p.correlationID = id
	}
}

// WithTraceID sets an explicit trace id. Without it a UUID is generated.
func WithTraceID(id string) ProcessOption {
	return func(p *ProcessLogger) {
		p.traceID = id
	}
}

// WithSystems sets the application, originating and target system labels.
func WithSystems(applicationID, originatingSystem, targetSystem string) ProcessOption {
	return func(p *ProcessLogger) {
		p.applicationID = applicationID
		p.originatingSystem = originatingSystem
		p.targetSystem = targetSystem
	}
}

// WithAccountID sets the business account for all emitted events.
func WithAccountID(id string) ProcessOption {
	return func(p *ProcessLogger) {
		p.accountID = id
	}
}

// WithBatchID groups the process under a batch.
func WithBatchID(id string) ProcessOption {
	return func(p *ProcessLogger) {
		p.batchID = id
	}
}

// NewProcessLogger creates a ProcessLogger for one process instance.
// Correlation and trace ids not provided via options are auto-generated.
func NewProcessLogger(sink EventLogger, processName string, opts ...ProcessOption) *ProcessLogger {
	p := &ProcessLogger{
		sink:        sink,
		processName: processName,
		identifiers: make(map[string]string),
		metadata:    make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.correlationID == "" {
		p.correlationID = uuid.NewString()
	}

	if p.traceID == "" {
		p.traceID = uuid.NewString()
	}

	return p
}

// CorrelationID returns the correlation id events are stamped with.
func (p *ProcessLogger) CorrelationID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.correlationID
}

// TraceID returns the trace id events are stamped with.
func (p *ProcessLogger) TraceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.traceID
}

// SetAccountID changes the account stamped on subsequent events.
func (p *ProcessLogger) SetAccountID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.accountID = id
}

// SetBatchID changes the batch stamped on subsequent events.
func (p *ProcessLogger) SetBatchID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batchID = id
}

// AddIdentifier stacks a domain identifier onto all subsequent events.
func (p *ProcessLogger) AddIdentifier(key, value string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.identifiers[key] = value

	return p
}

// AddMetadata stacks a metadata value onto all subsequent events.
func (p *ProcessLogger) AddMetadata(key string, value interface{}) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metadata[key] = value

	return p
}

// WithEndpoint sets HTTP call details for the next emit only.
func (p *ProcessLogger) WithEndpoint(endpoint, method string, statusCode int) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.oneShot.endpoint = endpoint
	p.oneShot.httpMethod = method
	p.oneShot.httpStatusCode = statusCode

	return p
}

// WithPayloads attaches request/response payloads to the next emit only.
func (p *ProcessLogger) WithPayloads(request, response string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.oneShot.requestPayload = request
	p.oneShot.responsePayload = response

	return p
}

// WithExecutionTime attaches a duration to the next emit only.
func (p *ProcessLogger) WithExecutionTime(ms int64) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.oneShot.executionTimeMs = ms

	return p
}

// WithTargetSystem overrides the target system for the next emit only.
func (p *ProcessLogger) WithTargetSystem(system string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.oneShot.targetSystem = system

	return p
}

// WithSpanLinks declares fork-join span links on the next emit only.
func (p *ProcessLogger) WithSpanLinks(spanIDs ...string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.oneShot.spanLinks = spanIDs

	return p
}

// WithIdempotencyKey sets the deduplication key for the next emit only.
func (p *ProcessLogger) WithIdempotencyKey(key string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.oneShot.idempotencyKey = key

	return p
}

// WithParentSpan overrides the parent span id for the next emit only.
// Without it the previous emit's span id is used.
func (p *ProcessLogger) WithParentSpan(spanID string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextParent = spanID

	return p
}

// ProcessStart emits the PROCESS_START event (step sequence 0). Its span id
// becomes the root span, used as the parent of terminal events.
func (p *ProcessLogger) ProcessStart(summary, result string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.buildLocked(0, "", TypeProcessStart, StatusSuccess, summary, result)
	p.rootSpanID = e.SpanID

	return p.sink.Log(e)
}

// LogStep emits an intermediate STEP event.
func (p *ProcessLogger) LogStep(seq int, name, status, summary, result string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sink.Log(p.buildLocked(seq, name, TypeStep, status, summary, result))
}

// ProcessEnd emits the terminal PROCESS_END event, parented to the root
// span so the trace shows the process bracket.
func (p *ProcessLogger) ProcessEnd(seq int, status, summary, result string, totalMs int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nextParent == "" && p.rootSpanID != "" {
		p.nextParent = p.rootSpanID
	}

	if totalMs > 0 {
		p.oneShot.executionTimeMs = totalMs
	}

	return p.sink.Log(p.buildLocked(seq, "", TypeProcessEnd, status, summary, result))
}

// Error emits an ERROR event with FAILURE status at the current point in
// the process.
func (p *ProcessLogger) Error(code, message, summary string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.buildLocked(0, "", TypeError, StatusFailure, summary, "")
	e.ErrorCode = code
	e.ErrorMessage = message

	if e.Summary == "" {
		e.Summary = fmt.Sprintf("%s: %s", code, message)
	}

	return p.sink.Log(e)
}

// buildLocked assembles the next event from persistent state, the one-shot
// fields (cleared afterwards) and a fresh span id. Caller holds p.mu.
func (p *ProcessLogger) buildLocked(seq int, stepName, eventType, status, summary, result string) Event {
	spanID := newSpanID()

	parent := p.nextParent
	if parent == "" {
		parent = p.lastSpanID
	}

	targetSystem := p.targetSystem
	if p.oneShot.targetSystem != "" {
		targetSystem = p.oneShot.targetSystem
	}

	e := Event{
		CorrelationID:     p.correlationID,
		TraceID:           p.traceID,
		SpanID:            spanID,
		ParentSpanID:      parent,
		SpanLinks:         p.oneShot.spanLinks,
		AccountID:         p.accountID,
		BatchID:           p.batchID,
		ApplicationID:     p.applicationID,
		OriginatingSystem: p.originatingSystem,
		TargetSystem:      targetSystem,
		ProcessName:       p.processName,
		StepSequence:      seq,
		StepName:          stepName,
		EventType:         eventType,
		EventStatus:       status,
		Identifiers:       copyIdentifiers(p.identifiers),
		Metadata:          copyMetadata(p.metadata),
		Summary:           summary,
		Result:            result,
		EventTimestamp:    time.Now().UTC(),
		Endpoint:          p.oneShot.endpoint,
		HTTPMethod:        p.oneShot.httpMethod,
		HTTPStatusCode:    p.oneShot.httpStatusCode,
		RequestPayload:    p.oneShot.requestPayload,
		ResponsePayload:   p.oneShot.responsePayload,
		ExecutionTimeMs:   p.oneShot.executionTimeMs,
		IdempotencyKey:    p.oneShot.idempotencyKey,
	}

	p.lastSpanID = spanID
	p.nextParent = ""
	p.oneShot = oneShotFields{}

	return e
}

// copyIdentifiers snapshots the identifier map so later additions never
// appear on already-emitted events.
func copyIdentifiers(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

func copyMetadata(src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return nil
	}

	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

// newSpanID returns an opaque 16-character hex span id.
func newSpanID() string {
	buf := make([]byte, spanIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}

	return hex.EncodeToString(buf)
}
