// Package proclog is the ProcPulse producer SDK.
//
// It provides a fire-and-forget asynchronous logger (bounded queue, sender
// workers, retry with backoff, circuit breaker, local spillover), a typed
// HTTP client for synchronous use, and a ProcessLogger façade that stamps
// shared process context onto every emitted event.
package proclog

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults for the asynchronous logger. All are overridable via Config.
const (
	DefaultQueueCapacity    = 10000
	DefaultSenderWorkers    = 1
	DefaultBatchSize        = 50
	DefaultMaxBatchWait     = 100 * time.Millisecond
	DefaultMaxRetries       = 3
	DefaultBaseRetryDelay   = time.Second
	DefaultMaxRetryDelay    = 30 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 30 * time.Second
	DefaultHTTPTimeout      = 10 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
)

var (
	// ErrBaseURLRequired is returned when the server base URL is missing.
	ErrBaseURLRequired = errors.New("base URL is required")

	// ErrPartialOAuth is returned when only some of the OAuth fields are set.
	// Token URL, client id and client secret are all-or-none.
	ErrPartialOAuth = errors.New("partial OAuth configuration")

	// ErrInvalidQueueCapacity is returned for a non-positive queue capacity.
	ErrInvalidQueueCapacity = errors.New("queue capacity must be positive")

	// ErrInvalidBatchSize is returned for a non-positive batch size.
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)

// Config configures the SDK. The zero value is not usable; start from
// NewConfig and adjust fields.
type Config struct {
	// BaseURL is the ProcPulse server root, e.g. "https://procpulse.internal".
	BaseURL string

	// APIKey is sent as X-Api-Key when set. Ignored when OAuth is configured.
	APIKey string

	// OAuth client-credentials settings. All three must be set together.
	TokenURL     string
	ClientID     string
	ClientSecret string

	HTTPTimeout time.Duration

	// Async logger tuning.
	QueueCapacity    int
	SenderWorkers    int
	BatchSize        int
	MaxBatchWait     time.Duration
	MaxRetries       int
	BaseRetryDelay   time.Duration
	MaxRetryDelay    time.Duration
	BreakerThreshold uint32
	BreakerReset     time.Duration
	ShutdownTimeout  time.Duration

	// SpilloverPath is a directory for NDJSON spill files. Empty disables
	// file spillover (events lost to back-pressure are dropped and reported
	// through the loss callback).
	SpilloverPath string
}

// NewConfig returns a Config with all defaults applied.
func NewConfig(baseURL string) *Config {
	return &Config{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		HTTPTimeout:      DefaultHTTPTimeout,
		QueueCapacity:    DefaultQueueCapacity,
		SenderWorkers:    DefaultSenderWorkers,
		BatchSize:        DefaultBatchSize,
		MaxBatchWait:     DefaultMaxBatchWait,
		MaxRetries:       DefaultMaxRetries,
		BaseRetryDelay:   DefaultBaseRetryDelay,
		MaxRetryDelay:    DefaultMaxRetryDelay,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerReset:     DefaultBreakerReset,
		ShutdownTimeout:  DefaultShutdownTimeout,
	}
}

// Validate checks the configuration and fills defaulted zero fields so a
// hand-built Config behaves like one from NewConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrBaseURLRequired
	}

	oauthSet := 0

	for _, v := range []string{c.TokenURL, c.ClientID, c.ClientSecret} {
		if strings.TrimSpace(v) != "" {
			oauthSet++
		}
	}

	if oauthSet != 0 && oauthSet != 3 {
		return fmt.Errorf("%w: token URL, client id and client secret must all be set", ErrPartialOAuth)
	}

	if c.QueueCapacity < 0 {
		return ErrInvalidQueueCapacity
	}

	if c.BatchSize < 0 {
		return ErrInvalidBatchSize
	}

	c.applyDefaults()

	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}

	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}

	if c.SenderWorkers <= 0 {
		c.SenderWorkers = DefaultSenderWorkers
	}

	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = DefaultMaxBatchWait
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}

	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}

	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}

	if c.BreakerReset <= 0 {
		c.BreakerReset = DefaultBreakerReset
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// oauthConfigured reports whether the OAuth triple is fully set.
func (c *Config) oauthConfigured() bool {
	return c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != ""
}
