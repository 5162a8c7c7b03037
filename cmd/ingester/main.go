// Package main provides the ProcPulse Kafka ingester.
//
// It consumes the event topic and inserts through the same idempotent store
// path as the HTTP API, committing offsets only after a successful insert.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/procpulse-io/procpulse/internal/config"
	"github.com/procpulse-io/procpulse/internal/ingest"
	"github.com/procpulse-io/procpulse/internal/storage"
)

// Version information.
const (
	version = "1.0.0"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("PROCPULSE_INGESTER_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting ProcPulse ingester",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	eventStore, err := storage.NewEventStore(dbConn)
	if err != nil {
		logger.Error("Failed to initialize event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	ingestConfig := ingest.LoadConfig()

	consumer, err := ingest.NewConsumer(ingestConfig, eventStore, logger)
	if err != nil {
		logger.Error("Failed to create Kafka consumer", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped with error", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("ProcPulse ingester stopped")
}
