package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/procpulse-io/procpulse/internal/storage"
)

// publicEndpoints defines endpoints that bypass authentication.
// These are accessible without API keys (e.g., K8s health probes).
//
// Security note: only health check endpoints belong in this map.
// Never add business logic endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup for health check endpoints.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

type (
	// AuthError represents an authentication error with a specific type.
	AuthError struct {
		Type    error
		Message string
	}

	// KeyVerifier resolves a plaintext API key to its stored record.
	// storage.APIKeyStore is the production implementation; tests supply fakes.
	KeyVerifier interface {
		Verify(ctx context.Context, apiKey string) (*storage.Key, error)
	}
)

// Authentication error types for granular error handling.
var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for invalid API key format, unknown,
	// inactive or expired keys. The generic error prevents enumeration attacks.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// extractAPIKey extracts the API key from request headers.
// It checks the X-Api-Key header first (primary), then falls back to
// Authorization: Bearer header (secondary).
//
// Returns (key, true) if found and valid, ("", false) otherwise.
//
// Security considerations:
// - Rejects keys containing newlines (header injection prevention)
// - Trims whitespace from keys
// - Case-sensitive "Bearer " prefix check
// - X-Api-Key takes precedence over Authorization header.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return cleanAPIKey(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return "", false
}

// cleanAPIKey validates and cleans an API key header value.
// Returns (cleanedKey, true) if usable, ("", false) otherwise.
func cleanAPIKey(key string) (string, bool) {
	// Reject keys containing newlines (header injection prevention)
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type, enabling standard errors.Is() and errors.As() behavior.
func (e *AuthError) Unwrap() error {
	return e.Type
}

// Timing attack prevention: perform a dummy bcrypt comparison
// to maintain constant time on the reject path.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// authenticateRequest performs API key authentication.
// Returns the resolved key record or an AuthError.
//
// The verifier collapses unknown, inactive and expired keys into the same
// not-found error, so every failure surfaces as the generic ErrInvalidAPIKey.
func authenticateRequest(
	ctx context.Context,
	verifier KeyVerifier,
	apiKey string,
	logger *slog.Logger,
) (*storage.Key, error) {
	parsedKey, err := storage.ParseAPIKey(apiKey)
	if err != nil {
		performDummyBcryptComparison()

		logger.Error("authentication failed: invalid key format",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(ctx)),
			slog.String("failure_type", "format_validation"),
		)

		return nil, &AuthError{
			Type:    ErrInvalidAPIKey,
			Message: "Invalid or missing API key",
		}
	}

	key, err := verifier.Verify(ctx, parsedKey)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			logger.Error("authentication failed: key store error",
				slog.String("error", err.Error()),
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("failure_type", "store_error"),
			)
		} else {
			logger.Error("authentication failed: key rejected",
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("failure_type", "key_rejected"),
			)
		}

		return nil, &AuthError{
			Type:    ErrInvalidAPIKey,
			Message: "Invalid or missing API key",
		}
	}

	return key, nil
}

// AuthenticateProducer creates an authentication middleware that validates
// producer API keys and enriches the request context with producer identity.
//
// The middleware:
// - Extracts API keys from X-Api-Key (primary) or Authorization: Bearer (fallback) headers
// - Validates API key format and authenticity against the key store
// - Enriches request context with ProducerContext
// - Returns RFC 7807 compliant error responses on failure
func AuthenticateProducer(verifier KeyVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Public endpoints (health probes) bypass authentication
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{
					Type:    ErrMissingAPIKey,
					Message: "Missing API key",
				})

				return
			}

			key, err := authenticateRequest(r.Context(), verifier, apiKey, logger)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			producerCtx := ProducerContext{
				Producer: key.Producer,
				KeyID:    key.ID,
				AuthTime: time.Now(),
			}
			ctx := SetProducerContext(r.Context(), producerCtx)

			logger.Info("API key authenticated",
				slog.String("producer", producerCtx.Producer),
				slog.String("key_id", producerCtx.KeyID),
				slog.String("key", storage.MaskKey(apiKey)),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for authentication failures.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	requestID := GetRequestID(r.Context())

	statusCode := http.StatusUnauthorized

	// Log authentication failure (no sensitive data)
	logger.Warn("Authentication failed",
		slog.String("reason", err.Error()),
		slog.String("request_id", requestID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	detail := err.Error()
	if err := writeRFC7807Error(w, r, statusCode, detail, requestID); err != nil {
		logger.Error("failed to write response with RFC 7807 error format",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.String("detail", detail),
			slog.Any("error", err),
		)

		// Fallback to plain text if writeRFC7807Error fails
		http.Error(w, detail, statusCode)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without importing the api package.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	requestID string,
) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = "Authentication Failed"
	}

	problem := map[string]interface{}{
		"type":       fmt.Sprintf("https://procpulse.io/problems/%d", statusCode),
		"title":      title,
		"status":     statusCode,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": requestID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
