package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/procpulse-io/procpulse/internal/event"
)

// messageReader is the subset of kafka.Reader behavior the consumer needs.
// Narrowed to an interface so tests can substitute a fake.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// payload is the Kafka message body: the same snake_case JSON shape the
// HTTP ingestion endpoints accept.
//
//nolint:tagliatelle
type payload struct {
	CorrelationID     string                 `json:"correlation_id"`
	TraceID           string                 `json:"trace_id"`
	SpanID            string                 `json:"span_id,omitempty"`
	ParentSpanID      string                 `json:"parent_span_id,omitempty"`
	SpanLinks         []string               `json:"span_links,omitempty"`
	AccountID         string                 `json:"account_id,omitempty"`
	BatchID           string                 `json:"batch_id,omitempty"`
	ApplicationID     string                 `json:"application_id"`
	OriginatingSystem string                 `json:"originating_system"`
	TargetSystem      string                 `json:"target_system"`
	ProcessName       string                 `json:"process_name"`
	StepSequence      int                    `json:"step_sequence"`
	StepName          string                 `json:"step_name,omitempty"`
	EventType         string                 `json:"event_type"`
	EventStatus       string                 `json:"event_status"`
	Identifiers       map[string]string      `json:"identifiers"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Summary           string                 `json:"summary"`
	Result            string                 `json:"result,omitempty"`
	EventTimestamp    time.Time              `json:"event_timestamp"`
	Endpoint          string                 `json:"endpoint,omitempty"`
	HTTPMethod        string                 `json:"http_method,omitempty"`
	HTTPStatusCode    int                    `json:"http_status_code,omitempty"`
	ErrorCode         string                 `json:"error_code,omitempty"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	ExecutionTimeMs   int64                  `json:"execution_time_ms,omitempty"`
	IdempotencyKey    string                 `json:"idempotency_key,omitempty"`
}

func (p *payload) toEvent() *event.Event {
	return &event.Event{
		CorrelationID:     p.CorrelationID,
		TraceID:           p.TraceID,
		SpanID:            p.SpanID,
		ParentSpanID:      p.ParentSpanID,
		SpanLinks:         p.SpanLinks,
		AccountID:         p.AccountID,
		BatchID:           p.BatchID,
		ApplicationID:     p.ApplicationID,
		OriginatingSystem: p.OriginatingSystem,
		TargetSystem:      p.TargetSystem,
		ProcessName:       p.ProcessName,
		StepSequence:      p.StepSequence,
		StepName:          p.StepName,
		EventType:         event.Type(p.EventType),
		EventStatus:       event.Status(p.EventStatus),
		Identifiers:       p.Identifiers,
		Metadata:          p.Metadata,
		Summary:           p.Summary,
		Result:            p.Result,
		EventTimestamp:    p.EventTimestamp,
		Endpoint:          p.Endpoint,
		HTTPMethod:        event.HTTPMethod(p.HTTPMethod),
		HTTPStatusCode:    p.HTTPStatusCode,
		ErrorCode:         p.ErrorCode,
		ErrorMessage:      p.ErrorMessage,
		ExecutionTimeMs:   p.ExecutionTimeMs,
		IdempotencyKey:    p.IdempotencyKey,
	}
}

// Consumer drains a Kafka topic into the event store.
//
// Malformed or invalid messages are logged and skipped rather than blocking
// the partition; storage outages are retried with exponential backoff before
// any offset is committed.
type Consumer struct {
	reader    messageReader
	store     event.Store
	validator *event.Validator
	logger    *slog.Logger
	config    *Config
}

// NewConsumer creates a Kafka consumer bound to the configured topic and
// consumer group.
func NewConsumer(cfg *Config, store event.Store, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest configuration: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.BatchWait,
	})

	return newConsumer(reader, cfg, store, logger), nil
}

func newConsumer(reader messageReader, cfg *Config, store event.Store, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:    reader,
		store:     store,
		validator: event.NewValidator(),
		logger:    logger,
		config:    cfg,
	}
}

// Run consumes until ctx is cancelled. Offsets are committed per batch,
// after the insert succeeds.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Starting Kafka ingest loop",
		slog.String("topic", c.config.Topic),
		slog.String("group_id", c.config.GroupID),
		slog.Int("batch_size", c.config.BatchSize),
		slog.Duration("batch_wait", c.config.BatchWait),
	)

	for {
		messages, fetchErr := c.fetchBatch(ctx)

		// Flush whatever was fetched before acting on the error, so a
		// shutdown mid-batch still lands the events it already holds.
		if len(messages) > 0 {
			events := c.decode(messages)

			if len(events) > 0 {
				if err := c.insertWithRetry(ctx, events); err != nil {
					// Only a cancelled context escapes the retry loop.
					// Offsets stay uncommitted, so the batch is redelivered
					// on restart and deduped by idempotency key.
					return c.reader.Close()
				}
			}

			if err := c.reader.CommitMessages(context.WithoutCancel(ctx), messages...); err != nil {
				c.logger.Error("Failed to commit offsets", slog.String("error", err.Error()))
			}
		}

		if fetchErr != nil {
			if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, context.DeadlineExceeded) {
				return c.reader.Close()
			}

			c.logger.Error("Failed to fetch messages", slog.String("error", fetchErr.Error()))
		}
	}
}

// fetchBatch blocks for the first message, then drains until the batch is
// full or the batch wait elapses.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	messages := make([]kafka.Message, 0, c.config.BatchSize)
	messages = append(messages, first)

	waitCtx, cancel := context.WithTimeout(ctx, c.config.BatchWait)
	defer cancel()

	for len(messages) < c.config.BatchSize {
		msg, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break // batch wait elapsed, flush what we have
			}

			return messages, err
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// decode parses and validates message bodies. Bad messages are dropped with
// a log line; they would fail identically on every redelivery.
func (c *Consumer) decode(messages []kafka.Message) []*event.Event {
	events := make([]*event.Event, 0, len(messages))

	for i := range messages {
		msg := &messages[i]

		var p payload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			c.logger.Warn("Dropping malformed message",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)

			continue
		}

		e := p.toEvent()

		if fieldErrors := c.validator.ValidateEvent(e); len(fieldErrors) > 0 {
			c.logger.Warn("Dropping invalid event",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("correlation_id", e.CorrelationID),
				slog.String("error", event.ValidationError(fieldErrors).Error()),
			)

			continue
		}

		events = append(events, e)
	}

	return events
}

// insertWithRetry keeps retrying the batch insert until it succeeds or the
// context is cancelled. Per-row failures are terminal for those rows and
// only logged; retrying them would fail the same way.
func (c *Consumer) insertWithRetry(ctx context.Context, events []*event.Event) error {
	operation := func() error {
		result, err := c.store.InsertBatch(ctx, events)
		if err != nil {
			c.logger.Error("Batch insert failed, will retry",
				slog.Int("events", len(events)),
				slog.String("error", err.Error()),
			)

			return err
		}

		for _, rowErr := range result.Errors {
			c.logger.Warn("Event rejected by store",
				slog.Int("index", rowErr.Index),
				slog.String("correlation_id", events[rowErr.Index].CorrelationID),
				slog.String("error", rowErr.Message),
			)
		}

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until the context is cancelled

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
