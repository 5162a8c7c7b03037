// Package ingest bridges a Kafka topic into the event store.
//
// Producers that cannot speak HTTP (or that already publish to Kafka for
// other consumers) write the same JSON event shape to a topic; the ingester
// consumes it in batches and inserts through the idempotent store path.
// Offsets are committed only after a successful insert, giving at-least-once
// delivery; the idempotency key dedupes redelivered events.
package ingest

import (
	"errors"
	"time"

	"github.com/procpulse-io/procpulse/internal/config"
)

const (
	defaultTopic     = "procpulse.events"
	defaultGroupID   = "procpulse-ingester"
	defaultBatchSize = 100
	defaultBatchWait = time.Second
	defaultMinBytes  = 1
	defaultMaxBytes  = 10 * 1024 * 1024
)

// ErrNoBrokers is returned when no Kafka brokers are configured.
var ErrNoBrokers = errors.New("no Kafka brokers configured")

// Config holds Kafka consumer configuration.
type Config struct {
	Brokers   []string
	Topic     string
	GroupID   string
	BatchSize int           // Max events inserted per store round-trip
	BatchWait time.Duration // Max time to hold a partial batch
	MinBytes  int
	MaxBytes  int
}

// LoadConfig loads consumer configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Brokers: config.ParseCommaSeparatedList(
			config.GetEnvStr("PROCPULSE_KAFKA_BROKERS", ""),
		),
		Topic:     config.GetEnvStr("PROCPULSE_KAFKA_TOPIC", defaultTopic),
		GroupID:   config.GetEnvStr("PROCPULSE_KAFKA_GROUP_ID", defaultGroupID),
		BatchSize: config.GetEnvInt("PROCPULSE_INGEST_BATCH_SIZE", defaultBatchSize),
		BatchWait: config.GetEnvDuration("PROCPULSE_INGEST_BATCH_WAIT", defaultBatchWait),
		MinBytes:  defaultMinBytes,
		MaxBytes:  defaultMaxBytes,
	}
}

// Validate checks the consumer configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}

	if c.BatchWait <= 0 {
		c.BatchWait = defaultBatchWait
	}

	return nil
}
