// Package storage provides the PostgreSQL persistence layer for ProcPulse.
package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/procpulse-io/procpulse/internal/config"
)

const (
	defaultPoolMax        = 10
	defaultPoolMin        = 0
	defaultIdleTimeout    = 30 * time.Second
	defaultAcquireTimeout = 15 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrInvalidPoolSize is returned when pool bounds are inconsistent.
	ErrInvalidPoolSize = errors.New("DB_POOL_MIN cannot exceed DB_POOL_MAX")
)

// Config holds PostgreSQL connection configuration with production-ready defaults.
type Config struct {
	databaseURL     string
	PoolMax         int           // Maximum number of open connections
	PoolMin         int           // Minimum number of idle connections kept open
	IdleTimeout     time.Duration // Maximum idle time for connections
	AcquireTimeout  time.Duration // Maximum wait for a pooled connection
	RequestTimeout  time.Duration // Per-request statement deadline
	FullTextEnabled bool          // Use the FTS index for text search
}

// LoadConfig loads PostgreSQL configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""), // DatabaseURL is private for obvious reasons.
		PoolMax:         config.GetEnvInt("DB_POOL_MAX", defaultPoolMax),
		PoolMin:         config.GetEnvInt("DB_POOL_MIN", defaultPoolMin),
		IdleTimeout:     config.GetEnvMillis("DB_IDLE_TIMEOUT_MS", defaultIdleTimeout),
		AcquireTimeout:  config.GetEnvMillis("DB_ACQUIRE_TIMEOUT_MS", defaultAcquireTimeout),
		RequestTimeout:  config.GetEnvMillis("DB_REQUEST_TIMEOUT_MS", defaultRequestTimeout),
		FullTextEnabled: config.GetEnvBool("FULLTEXT_ENABLED", false),
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.PoolMin > c.PoolMax {
		return ErrInvalidPoolSize
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	// The last @ separates userinfo from host
	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return c.databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
