package proclog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		CorrelationID:     "corr-1",
		TraceID:           "trace-1",
		ApplicationID:     "payments-gateway",
		OriginatingSystem: "mobile-app",
		TargetSystem:      "core-banking",
		ProcessName:       "card-replacement",
		EventType:         TypeStep,
		EventStatus:       StatusSuccess,
		Identifiers:       map[string]string{"employee_id": "E-1"},
		Summary:           "verified card ownership",
		EventTimestamp:    time.Now().UTC(),
	}
}

func okBatchResponse(n int) BatchResponse {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "exec"
	}

	return BatchResponse{ExecutionIDs: ids, TotalInserted: n}
}

func writeBatchResponse(t *testing.T, w http.ResponseWriter, status int, resp BatchResponse) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func fastClient(t *testing.T, baseURL string, opts ...ClientOption) *Client {
	t.Helper()

	cfg := NewConfig(baseURL)
	cfg.BaseRetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond

	client, err := NewClient(cfg, opts...)
	require.NoError(t, err)

	return client
}

func TestClient_PostEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/events/batch", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Events []Event `json:"events"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Events, 2)

		writeBatchResponse(t, w, http.StatusCreated, okBatchResponse(2))
	}))
	defer server.Close()

	resp, err := fastClient(t, server.URL).PostEvents(
		context.Background(), []Event{sampleEvent(), sampleEvent()})

	require.NoError(t, err)
	assert.Len(t, resp.ExecutionIDs, 2)
	assert.Equal(t, 2, resp.TotalInserted)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		writeBatchResponse(t, w, http.StatusCreated, okBatchResponse(1))
	}))
	defer server.Close()

	resp, err := fastClient(t, server.URL).PostEvents(context.Background(), []Event{sampleEvent()})

	require.NoError(t, err)
	assert.Len(t, resp.ExecutionIDs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"title":"Bad Request","detail":"correlation_id is required","error_code":"VALIDATION_FAILED"}`))
	}))
	defer server.Close()

	_, err := fastClient(t, server.URL).PostEvents(context.Background(), []Event{{}})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)
	assert.Equal(t, "correlation_id is required", apiErr.Message)
	assert.False(t, apiErr.Retryable())
}

func TestClient_RateLimitIsRetryable(t *testing.T) {
	err := &APIError{StatusCode: http.StatusTooManyRequests}

	assert.True(t, err.Retryable())
}

func TestClient_APIKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "procpulse_ak_test", r.Header.Get("X-Api-Key"))
		writeBatchResponse(t, w, http.StatusCreated, okBatchResponse(1))
	}))
	defer server.Close()

	cfg := NewConfig(server.URL)
	cfg.APIKey = "procpulse_ak_test"

	client, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = client.Send(context.Background(), "", []Event{sampleEvent()})
	require.NoError(t, err)
}

func TestClient_BearerTokenFromProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		writeBatchResponse(t, w, http.StatusCreated, okBatchResponse(1))
	}))
	defer server.Close()

	client := fastClient(t, server.URL, WithTokenProvider(StaticToken("token-123")))

	_, err := client.Send(context.Background(), "", []Event{sampleEvent()})
	require.NoError(t, err)
}

func TestClient_SendIsSingleAttempt(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := fastClient(t, server.URL).Send(context.Background(), "", []Event{sampleEvent()})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable())
}
