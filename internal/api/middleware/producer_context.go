package middleware

import (
	"context"
	"time"
)

// producerContextKey is the context key for authenticated producer information.
// Using a struct type ensures type safety and prevents collisions with other context keys.
type producerContextKey struct{}

// ProducerContext contains authenticated producer information enriched in the
// request context by the authentication middleware after successful API key
// validation.
type ProducerContext struct {
	// Producer is the producing application's identifier (e.g., "payments-gateway")
	Producer string

	// KeyID is the API key ID used for authentication (for audit logging)
	KeyID string

	// AuthTime is the timestamp when authentication occurred
	AuthTime time.Time
}

// GetProducerContext extracts producer context from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
func GetProducerContext(ctx context.Context) (ProducerContext, bool) {
	producerCtx, ok := ctx.Value(producerContextKey{}).(ProducerContext)

	return producerCtx, ok
}

// SetProducerContext adds producer context to the request context.
// Returns a new context with the producer context attached.
func SetProducerContext(ctx context.Context, producerCtx ProducerContext) context.Context {
	return context.WithValue(ctx, producerContextKey{}, producerCtx)
}
