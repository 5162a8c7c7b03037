package event

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	return &Event{
		CorrelationID:     "corr-123",
		TraceID:           "trace-456",
		SpanID:            "a1b2c3d4",
		AccountID:         "acct-1",
		ApplicationID:     "payments-api",
		OriginatingSystem: "web-portal",
		TargetSystem:      "core-banking",
		ProcessName:       "card-replacement",
		StepSequence:      1,
		StepName:          "validate-request",
		EventType:         TypeStep,
		EventStatus:       StatusSuccess,
		Identifiers:       map[string]string{"employee_id": "E-77"},
		Summary:           "request validated",
		Result:            "OK",
		EventTimestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestValidateEvent_Valid(t *testing.T) {
	v := NewValidator()

	assert.Nil(t, v.ValidateEvent(validEvent()))
}

func TestValidateEvent_NilEvent(t *testing.T) {
	v := NewValidator()

	errs := v.ValidateEvent(nil)

	require.Len(t, errs, 1)
	assert.Equal(t, "event", errs[0].Field)
}

func TestValidateEvent_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		field  string
	}{
		{"missing correlation_id", func(e *Event) { e.CorrelationID = "" }, "correlation_id"},
		{"whitespace correlation_id", func(e *Event) { e.CorrelationID = "   " }, "correlation_id"},
		{"missing trace_id", func(e *Event) { e.TraceID = "" }, "trace_id"},
		{"missing application_id", func(e *Event) { e.ApplicationID = "" }, "application_id"},
		{"missing originating_system", func(e *Event) { e.OriginatingSystem = "" }, "originating_system"},
		{"missing target_system", func(e *Event) { e.TargetSystem = "" }, "target_system"},
		{"missing process_name", func(e *Event) { e.ProcessName = "" }, "process_name"},
		{"missing summary", func(e *Event) { e.Summary = "" }, "summary"},
		{"nil identifiers", func(e *Event) { e.Identifiers = nil }, "identifiers"},
		{"zero timestamp", func(e *Event) { e.EventTimestamp = time.Time{} }, "event_timestamp"},
	}

	v := NewValidator()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)

			errs := v.ValidateEvent(e)

			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateEvent_LengthLimits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		field  string
	}{
		{"correlation_id over 200", func(e *Event) { e.CorrelationID = strings.Repeat("c", 201) }, "correlation_id"},
		{"trace_id over 200", func(e *Event) { e.TraceID = strings.Repeat("t", 201) }, "trace_id"},
		{"span_id over 64", func(e *Event) { e.SpanID = strings.Repeat("s", 65) }, "span_id"},
		{"parent_span_id over 64", func(e *Event) { e.ParentSpanID = strings.Repeat("p", 65) }, "parent_span_id"},
		{"account_id over 64", func(e *Event) { e.AccountID = strings.Repeat("a", 65) }, "account_id"},
		{"process_name over 200", func(e *Event) { e.ProcessName = strings.Repeat("n", 201) }, "process_name"},
		{"result over 2048", func(e *Event) { e.Result = strings.Repeat("r", 2049) }, "result"},
		{"error_message over 2048", func(e *Event) { e.ErrorMessage = strings.Repeat("e", 2049) }, "error_message"},
	}

	v := NewValidator()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)

			errs := v.ValidateEvent(e)

			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Contains(t, errs[0].Error, "maximum length")
		})
	}
}

func TestValidateEvent_BoundaryLengthsAccepted(t *testing.T) {
	v := NewValidator()

	e := validEvent()
	e.CorrelationID = strings.Repeat("c", 200)
	e.TraceID = strings.Repeat("t", 200)
	e.SpanID = strings.Repeat("s", 64)
	e.AccountID = strings.Repeat("a", 64)
	e.Result = strings.Repeat("r", 2048)

	assert.Nil(t, v.ValidateEvent(e))
}

func TestValidateEvent_Enums(t *testing.T) {
	v := NewValidator()

	t.Run("invalid event_type", func(t *testing.T) {
		e := validEvent()
		e.EventType = "BOGUS"

		errs := v.ValidateEvent(e)

		require.Len(t, errs, 1)
		assert.Equal(t, "event_type", errs[0].Field)
	})

	t.Run("invalid event_status", func(t *testing.T) {
		e := validEvent()
		e.EventStatus = "MAYBE"

		errs := v.ValidateEvent(e)

		require.Len(t, errs, 1)
		assert.Equal(t, "event_status", errs[0].Field)
	})

	t.Run("invalid http_method", func(t *testing.T) {
		e := validEvent()
		e.HTTPMethod = "FETCH"

		errs := v.ValidateEvent(e)

		require.Len(t, errs, 1)
		assert.Equal(t, "http_method", errs[0].Field)
	})

	t.Run("empty http_method is valid", func(t *testing.T) {
		e := validEvent()
		e.HTTPMethod = ""

		assert.Nil(t, v.ValidateEvent(e))
	})
}

func TestValidateEvent_TypeInvariants(t *testing.T) {
	v := NewValidator()

	t.Run("process start with nonzero sequence", func(t *testing.T) {
		e := validEvent()
		e.EventType = TypeProcessStart
		e.StepSequence = 2

		errs := v.ValidateEvent(e)

		require.Len(t, errs, 1)
		assert.Equal(t, "step_sequence", errs[0].Field)
	})

	t.Run("process start with failure status", func(t *testing.T) {
		e := validEvent()
		e.EventType = TypeProcessStart
		e.StepSequence = 0
		e.EventStatus = StatusFailure

		errs := v.ValidateEvent(e)

		require.Len(t, errs, 1)
		assert.Equal(t, "event_status", errs[0].Field)
	})

	t.Run("process start in progress is valid", func(t *testing.T) {
		e := validEvent()
		e.EventType = TypeProcessStart
		e.StepSequence = 0
		e.EventStatus = StatusInProgress

		assert.Nil(t, v.ValidateEvent(e))
	})

	t.Run("process end in progress rejected", func(t *testing.T) {
		e := validEvent()
		e.EventType = TypeProcessEnd
		e.EventStatus = StatusInProgress

		errs := v.ValidateEvent(e)

		require.Len(t, errs, 1)
		assert.Equal(t, "event_status", errs[0].Field)
	})

	t.Run("process end failure is valid", func(t *testing.T) {
		e := validEvent()
		e.EventType = TypeProcessEnd
		e.EventStatus = StatusFailure

		assert.Nil(t, v.ValidateEvent(e))
	})
}

func TestValidateEvent_NegativeValues(t *testing.T) {
	v := NewValidator()

	e := validEvent()
	e.StepSequence = -1
	e.ExecutionTimeMs = -5

	errs := v.ValidateEvent(e)

	require.Len(t, errs, 2)
	assert.Equal(t, "step_sequence", errs[0].Field)
	assert.Equal(t, "execution_time_ms", errs[1].Field)
}

func TestValidateEvent_CollectsAllErrors(t *testing.T) {
	v := NewValidator()

	e := &Event{}

	errs := v.ValidateEvent(e)

	fields := make(map[string]bool, len(errs))
	for _, fe := range errs {
		fields[fe.Field] = true
	}

	for _, want := range []string{
		"correlation_id", "trace_id", "application_id", "originating_system",
		"target_system", "process_name", "summary", "event_type",
		"event_status", "identifiers", "event_timestamp",
	} {
		assert.True(t, fields[want], "expected field error for %s", want)
	}
}

func TestValidationError(t *testing.T) {
	assert.NoError(t, ValidationError(nil))

	err := ValidationError([]FieldError{
		{Field: "summary", Error: "summary is required"},
		{Field: "trace_id", Error: "trace_id is required"},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEventInvalid)
	assert.Contains(t, err.Error(), "summary is required")
	assert.Contains(t, err.Error(), "trace_id is required")
}
