// Package main provides the ProcPulse API server.
//
// ProcPulse ingests business-process events from producer applications and
// serves the correlation, trace, account and batch query paths on top of
// PostgreSQL.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/procpulse-io/procpulse/internal/api"
	"github.com/procpulse-io/procpulse/internal/api/middleware"
	"github.com/procpulse-io/procpulse/internal/catalog"
	"github.com/procpulse-io/procpulse/internal/storage"
)

// Version information.
const (
	version = "1.0.0"
	name    = "procpulse"
)

const seedTimeout = 30 * time.Second

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting ProcPulse service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
		slog.Bool("auth_enabled", serverConfig.AuthEnabled),
	)

	middlewareConfig := middleware.LoadConfig()

	// Graceful shutdown of the limiter's cleanup goroutine is handled by
	// server.shutdown().
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("producer_rps", middlewareConfig.ProducerRPS),
		slog.Int("producer_burst", middlewareConfig.ProducerBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	var keyVerifier middleware.KeyVerifier

	if serverConfig.AuthEnabled {
		apiKeyStore, keyErr := storage.NewAPIKeyStore(dbConn)
		if keyErr != nil {
			logger.Error("Failed to initialize API key store", slog.String("error", keyErr.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		keyVerifier = apiKeyStore

		logger.Info("Producer authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Producer authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set PROCPULSE_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	eventStore, err := storage.NewEventStore(dbConn)
	if err != nil {
		logger.Error("Failed to initialize event store", slog.String("error", err.Error()))
		// Close database connection before exit (defer won't run with os.Exit)
		_ = dbConn.Close()
		// Fail-fast: the server cannot run without its store.
		os.Exit(1)
	}

	logger.Info("Event store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_pool_max", storageConfig.PoolMax),
		slog.Int("database_pool_min", storageConfig.PoolMin),
		slog.Duration("database_idle_timeout", storageConfig.IdleTimeout),
		slog.Bool("fulltext_enabled", storageConfig.FullTextEnabled),
	)

	seedCatalog(logger, eventStore)

	server := api.NewServer(serverConfig, eventStore, keyVerifier, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("ProcPulse service stopped")
}

// seedCatalog loads the process-definition catalog and upserts it into the
// store. A missing or broken catalog file is non-fatal; the API simply
// serves an empty definition list.
func seedCatalog(logger *slog.Logger, store *storage.EventStore) {
	cat, err := catalog.LoadFromEnv()
	if err != nil {
		logger.Warn("Failed to load process catalog", slog.String("error", err.Error()))

		return
	}

	if len(cat.ProcessDefinitions) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	if err := cat.Seed(ctx, store); err != nil {
		logger.Warn("Failed to seed process catalog", slog.String("error", err.Error()))

		return
	}

	logger.Info("Process catalog seeded",
		slog.Int("definitions", len(cat.ProcessDefinitions)),
	)
}
