package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// requestIDSize is the number of random bytes in a generated request ID
// (8 bytes = 16 hex chars).
const requestIDSize = 8

// requestIDKey is the context key for the per-request trace ID.
type requestIDKey struct{}

// RequestID creates a middleware that attaches a request ID to each request.
// If the request already carries an X-Request-ID header, that value is used;
// otherwise a new one is generated.
//
// Note: this is the HTTP trace ID, not the business correlation_id that
// events carry in their payload. The two are unrelated on purpose.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = generateRequestID()
			}

			// Echo the ID so clients can reference it in support requests
			w.Header().Set("X-Request-ID", requestID)

			ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID extracts the request ID from the request context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}

	return "unknown"
}

// generateRequestID generates a new request ID, falling back to a
// timestamp-derived value if crypto/rand is unavailable.
func generateRequestID() string {
	bytes := make([]byte, requestIDSize)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}

	return hex.EncodeToString(bytes)
}
