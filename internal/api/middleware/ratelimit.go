package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxProducers               int     = 10000
	defaultGlobalRPS           int     = 100
	defaultProducerRPS         int     = 50
	defaultUnAuthRPS           int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// Implementations may use in-memory token buckets (single-node deployment)
	// or distributed stores like Redis (multi-node deployment). The interface
	// keeps that migration free of handler changes.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		//
		// For authenticated requests, producer identifies the caller.
		// For unauthenticated requests, producer is the empty string.
		Allow(producer string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	// 1. Global limit (applied to all requests)
	// 2. Per-producer limit (applied to authenticated requests)
	// 3. Unauthenticated limit (applied to requests without producer identity)
	//
	// Uses the token bucket algorithm with configurable burst capacity.
	// A background cleanup pass removes limiters for idle producers so the
	// map cannot grow without bound.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perProducer     map[string]*producerLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		// Configuration (stored for creating new producer limiters and cleanup)
		producerRPS     int
		producerBurst   int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxProducers    int
	}

	// producerLimiter tracks rate limit state for a single producer.
	// Includes last access time for memory cleanup.
	producerLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a new in-memory rate limiter with three-tier limits.
//
// Burst capacity is computed automatically as 2 x rate unless overridden in config.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS:   100,
//	    ProducerRPS: 50,
//	    UnAuthRPS:   10,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)
	producerBurst := computeBurstCapacity(config.ProducerRPS, config.ProducerBurst)
	unauthBurst := computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), globalBurst),
		perProducer:     make(map[string]*producerLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), unauthBurst),
		done:            make(chan struct{}),
		producerRPS:     config.ProducerRPS,
		producerBurst:   producerBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxProducers:    config.MaxProducers,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity computes the burst capacity based on the rate and optional override.
// If burstOverride is 0, burst is 2 x rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks if a request should be allowed based on rate limits.
// Implements the RateLimiter interface.
//
// Rate limiting is enforced in two steps:
// 1. Global limit (all requests)
// 2. Per-producer limit (authenticated) OR unauthenticated limit
func (rl *InMemoryRateLimiter) Allow(producer string) bool {
	// Check global limit first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	if producer == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	pl, ok := rl.perProducer[producer]
	rl.mu.RUnlock()

	if !ok {
		// Lazy initialization: create limiter for this producer
		rl.mu.Lock()
		// Double-check after acquiring write lock (avoid race)
		if pl, ok = rl.perProducer[producer]; !ok {
			pl = &producerLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.producerRPS), rl.producerBurst),
				lastAccess: time.Now(),
			}

			rl.perProducer[producer] = pl

			// Operational monitoring: warn when approaching the producer cap
			// so operators can spot producer ID proliferation early
			currentCount := len(rl.perProducer)
			threshold := int(float64(rl.maxProducers) * thresholdMultiplier)

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max producers limit",
					"current_producers", currentCount,
					"max_producers", rl.maxProducers,
					"threshold_percent", thresholdPercentage,
				)
			}
		}

		rl.mu.Unlock()
	}

	// Update last access time (for cleanup)
	pl.mu.Lock()
	pl.lastAccess = time.Now()
	pl.mu.Unlock()

	return pl.limiter.Allow()
}

// Close stops the cleanup goroutine and releases resources.
//
// Note: Close() is not part of the RateLimiter interface to allow
// implementations that don't require cleanup. Use type assertion if
// cleanup is needed:
//
//	if closer, ok := limiter.(io.Closer); ok {
//	    closer.Close()
//	}
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

// startCleanup starts a background goroutine that periodically removes
// stale producer limiters to prevent memory leaks.
func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes producer limiters that haven't been accessed recently.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for producer, pl := range rl.perProducer {
		pl.mu.Lock()
		lastAccess := pl.lastAccess
		pl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perProducer, producer)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming requests.
//
// When a request exceeds the rate limit, the middleware returns a 429
// (Too Many Requests) response with RFC 7807 error format.
//
// The middleware must be placed after the authentication middleware in the
// chain so it can read ProducerContext for per-producer rate limiting.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Producer identity comes from the authentication middleware.
			// Unauthenticated requests fall into the shared unauthenticated bucket.
			producer := ""
			if producerCtx, ok := GetProducerContext(r.Context()); ok {
				producer = producerCtx.Producer
			}

			if !limiter.Allow(producer) {
				requestID := GetRequestID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, requestID); err != nil {
					logger.Error("failed to write response with RFC 7807 error format",
						slog.String("request_id", requestID),
						slog.String("path", r.URL.Path),
						slog.String("detail", detail),
						slog.String("error", err.Error()),
					)

					// Fallback to plain text if writeRFC7807Error fails
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
