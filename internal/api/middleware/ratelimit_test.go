package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T, cfg *Config) *InMemoryRateLimiter {
	t.Helper()

	rl := NewInMemoryRateLimiter(cfg)
	t.Cleanup(func() { _ = rl.Close() })

	return rl
}

func TestInMemoryRateLimiter_GlobalLimit(t *testing.T) {
	rl := testLimiter(t, &Config{GlobalRPS: 1, GlobalBurst: 1, ProducerRPS: 100, UnAuthRPS: 100})

	assert.True(t, rl.Allow(""))
	assert.False(t, rl.Allow(""))
}

func TestInMemoryRateLimiter_PerProducerLimit(t *testing.T) {
	rl := testLimiter(t, &Config{GlobalRPS: 100, ProducerRPS: 1, ProducerBurst: 1, UnAuthRPS: 100})

	// Each producer has its own bucket
	assert.True(t, rl.Allow("payments-gateway"))
	assert.False(t, rl.Allow("payments-gateway"))
	assert.True(t, rl.Allow("cards-service"))
}

func TestInMemoryRateLimiter_UnauthenticatedLimit(t *testing.T) {
	rl := testLimiter(t, &Config{GlobalRPS: 100, ProducerRPS: 100, UnAuthRPS: 1, UnAuthBurst: 1})

	assert.True(t, rl.Allow(""))
	assert.False(t, rl.Allow(""))
	// Authenticated traffic is unaffected by the unauthenticated bucket
	assert.True(t, rl.Allow("payments-gateway"))
}

func TestInMemoryRateLimiter_CleanupRemovesIdleProducers(t *testing.T) {
	rl := testLimiter(t, &Config{
		GlobalRPS:       100,
		ProducerRPS:     100,
		UnAuthRPS:       100,
		CleanupInterval: time.Hour,
		IdleTimeout:     time.Nanosecond,
	})

	require.True(t, rl.Allow("payments-gateway"))
	time.Sleep(time.Millisecond)

	rl.cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.perProducer)
}

func TestComputeBurstCapacity(t *testing.T) {
	assert.Equal(t, 200, computeBurstCapacity(100, 0))
	assert.Equal(t, 500, computeBurstCapacity(100, 500))
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	rl := testLimiter(t, &Config{GlobalRPS: 1, GlobalBurst: 1, ProducerRPS: 100, UnAuthRPS: 100})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := RateLimit(rl, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/events/search", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/events/search", nil))

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "application/problem+json", second.Header().Get("Content-Type"))
	assert.Contains(t, second.Body.String(), "Rate limit exceeded")
}

func TestRateLimitMiddleware_UsesProducerContext(t *testing.T) {
	rl := testLimiter(t, &Config{GlobalRPS: 100, ProducerRPS: 1, ProducerBurst: 1, UnAuthRPS: 100})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := RateLimit(rl, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	makeRequest := func(producer string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/events/search", nil)
		req = req.WithContext(SetProducerContext(req.Context(), ProducerContext{Producer: producer}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	assert.Equal(t, http.StatusOK, makeRequest("payments-gateway"))
	assert.Equal(t, http.StatusTooManyRequests, makeRequest("payments-gateway"))
	assert.Equal(t, http.StatusOK, makeRequest("cards-service"))
}
