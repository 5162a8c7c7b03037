package middleware

import (
	"time"

	"github.com/procpulse-io/procpulse/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: applied to all requests
//   - Per-producer: applied to authenticated requests
//   - Unauthenticated: applied to requests without producer identity
//
// Burst capacity allows temporary bursts above the sustained rate.
// If burst fields are 0, they are computed automatically as 2 x rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS   int // Default: 100
	ProducerRPS int // Default: 50
	UnAuthRPS   int // Default: 10

	// Optional burst capacity overrides (0 = computed as 2 x rate)
	GlobalBurst   int
	ProducerBurst int
	UnAuthBurst   int

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxProducers    int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:   config.GetEnvInt("PROCPULSE_GLOBAL_RPS", defaultGlobalRPS),
		ProducerRPS: config.GetEnvInt("PROCPULSE_PRODUCER_RPS", defaultProducerRPS),
		UnAuthRPS:   config.GetEnvInt("PROCPULSE_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst:   config.GetEnvInt("PROCPULSE_GLOBAL_BURST", 0),
		ProducerBurst: config.GetEnvInt("PROCPULSE_PRODUCER_BURST", 0),
		UnAuthBurst:   config.GetEnvInt("PROCPULSE_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"PROCPULSE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout:  config.GetEnvDuration("PROCPULSE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxProducers: config.GetEnvInt("PROCPULSE_RATE_LIMIT_MAX_PRODUCERS", maxProducers),
	}
}
