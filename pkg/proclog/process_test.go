package proclog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records every emitted event.
type captureSink struct {
	events []Event
	reject bool
}

func (c *captureSink) Log(e Event) bool {
	if c.reject {
		return false
	}

	c.events = append(c.events, e)

	return true
}

func TestProcessLogger_GeneratesIDs(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement")

	assert.NotEmpty(t, p.CorrelationID())
	assert.NotEmpty(t, p.TraceID())
	assert.NotEqual(t, p.CorrelationID(), p.TraceID())
}

func TestProcessLogger_ExplicitIDs(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement",
		WithCorrelationID("corr-7"),
		WithTraceID("trace-7"),
		WithSystems("payments-gateway", "mobile-app", "core-banking"),
		WithAccountID("acct-7"),
		WithBatchID("batch-7"),
	)

	require.True(t, p.ProcessStart("process started", ""))

	e := sink.events[0]
	assert.Equal(t, "corr-7", e.CorrelationID)
	assert.Equal(t, "trace-7", e.TraceID)
	assert.Equal(t, "payments-gateway", e.ApplicationID)
	assert.Equal(t, "mobile-app", e.OriginatingSystem)
	assert.Equal(t, "core-banking", e.TargetSystem)
	assert.Equal(t, "acct-7", e.AccountID)
	assert.Equal(t, "batch-7", e.BatchID)
	assert.Equal(t, "card-replacement", e.ProcessName)
	assert.Equal(t, TypeProcessStart, e.EventType)
	assert.Zero(t, e.StepSequence)
}

func TestProcessLogger_SpanChain(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement")

	require.True(t, p.ProcessStart("started", ""))
	require.True(t, p.LogStep(1, "verify-ownership", StatusSuccess, "verified", ""))
	require.True(t, p.LogStep(2, "order-card", StatusSuccess, "ordered", ""))
	require.True(t, p.ProcessEnd(3, StatusSuccess, "completed", "", 1250))

	require.Len(t, sink.events, 4)

	start, step1, step2, end := sink.events[0], sink.events[1], sink.events[2], sink.events[3]

	assert.NotEmpty(t, start.SpanID)
	assert.Empty(t, start.ParentSpanID)

	// Each step parents on the previous emit.
	assert.Equal(t, start.SpanID, step1.ParentSpanID)
	assert.Equal(t, step1.SpanID, step2.ParentSpanID)

	// The terminal event parents on the root span, closing the bracket.
	assert.Equal(t, start.SpanID, end.ParentSpanID)
	assert.Equal(t, TypeProcessEnd, end.EventType)
	assert.Equal(t, int64(1250), end.ExecutionTimeMs)
}

func TestProcessLogger_ExplicitParentSpan(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement")

	require.True(t, p.ProcessStart("started", ""))
	require.True(t, p.WithParentSpan("span-external").LogStep(1, "fork", StatusSuccess, "", ""))
	require.True(t, p.LogStep(2, "next", StatusSuccess, "", ""))

	assert.Equal(t, "span-external", sink.events[1].ParentSpanID)
	// The override is one-shot: the next step chains normally.
	assert.Equal(t, sink.events[1].SpanID, sink.events[2].ParentSpanID)
}

func TestProcessLogger_IdentifiersStackForward(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement")

	p.AddIdentifier("employee_id", "E-1")
	require.True(t, p.ProcessStart("started", ""))

	p.AddIdentifier("card_id", "C-9")
	require.True(t, p.LogStep(1, "order-card", StatusSuccess, "", ""))

	first := sink.events[0].Identifiers
	second := sink.events[1].Identifiers

	assert.Equal(t, map[string]string{"employee_id": "E-1"}, first)
	assert.Equal(t, map[string]string{"employee_id": "E-1", "card_id": "C-9"}, second)
}

func TestProcessLogger_OneShotFieldsCleared(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement", WithSystems("app", "origin", "target"))

	p.WithEndpoint("/cards/order", "POST", 201).
		WithPayloads(`{"card":"C-9"}`, `{"status":"ordered"}`).
		WithExecutionTime(87).
		WithTargetSystem("card-vendor").
		WithSpanLinks("span-a", "span-b").
		WithIdempotencyKey("idem-1")

	require.True(t, p.LogStep(1, "order-card", StatusSuccess, "", ""))
	require.True(t, p.LogStep(2, "notify", StatusSuccess, "", ""))

	enriched, plain := sink.events[0], sink.events[1]

	assert.Equal(t, "/cards/order", enriched.Endpoint)
	assert.Equal(t, "POST", enriched.HTTPMethod)
	assert.Equal(t, 201, enriched.HTTPStatusCode)
	assert.Equal(t, `{"card":"C-9"}`, enriched.RequestPayload)
	assert.Equal(t, int64(87), enriched.ExecutionTimeMs)
	assert.Equal(t, "card-vendor", enriched.TargetSystem)
	assert.Equal(t, []string{"span-a", "span-b"}, enriched.SpanLinks)
	assert.Equal(t, "idem-1", enriched.IdempotencyKey)

	assert.Empty(t, plain.Endpoint)
	assert.Empty(t, plain.HTTPMethod)
	assert.Zero(t, plain.HTTPStatusCode)
	assert.Zero(t, plain.ExecutionTimeMs)
	assert.Equal(t, "target", plain.TargetSystem, "persistent target system is restored")
	assert.Nil(t, plain.SpanLinks)
	assert.Empty(t, plain.IdempotencyKey)
}

func TestProcessLogger_ErrorEvent(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement")

	require.True(t, p.ProcessStart("started", ""))
	require.True(t, p.Error("VENDOR_TIMEOUT", "card vendor did not respond", ""))

	e := sink.events[1]
	assert.Equal(t, TypeError, e.EventType)
	assert.Equal(t, StatusFailure, e.EventStatus)
	assert.Equal(t, "VENDOR_TIMEOUT", e.ErrorCode)
	assert.Equal(t, "card vendor did not respond", e.ErrorMessage)
	assert.Equal(t, "VENDOR_TIMEOUT: card vendor did not respond", e.Summary)
	assert.Equal(t, sink.events[0].SpanID, e.ParentSpanID)
}

func TestProcessLogger_SinkRejectionPropagates(t *testing.T) {
	sink := &captureSink{reject: true}
	p := NewProcessLogger(sink, "card-replacement")

	assert.False(t, p.ProcessStart("started", ""))
}

func TestProcessLogger_MetadataOmittedWhenEmpty(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessLogger(sink, "card-replacement")

	require.True(t, p.ProcessStart("started", ""))
	assert.Nil(t, sink.events[0].Metadata)

	p.AddMetadata("channel", "mobile")
	require.True(t, p.LogStep(1, "step", StatusSuccess, "", ""))
	assert.Equal(t, map[string]interface{}{"channel": "mobile"}, sink.events[1].Metadata)
}
