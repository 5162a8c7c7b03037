package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/procpulse-io/procpulse/internal/config"
)

const healthCheckTimeout = 3 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is constructed without a connection.
	ErrNoDatabaseConnection = errors.New("database connection is nil")

	// ErrConnectionFailed is returned when the database cannot be reached.
	ErrConnectionFailed = errors.New("database connection failed")
)

// Connection wraps the SQL connection pool with configured timeouts.
//
// Connections are leased per request and released on completion; the
// RequestContext helper bounds every statement with the configured
// request timeout so a slow query cannot hold a lease indefinitely.
type Connection struct {
	db     *sql.DB
	cfg    *Config
	logger *slog.Logger
}

// NewConnection opens a PostgreSQL connection pool from the given configuration.
// The pool is verified with a ping bounded by the acquire timeout.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	conn := &Connection{
		db:  db,
		cfg: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	conn.logger.Info("Connected to PostgreSQL",
		slog.String("url", cfg.MaskDatabaseURL()),
		slog.Int("pool_max", cfg.PoolMax),
		slog.Int("pool_min", cfg.PoolMin),
	)

	return conn, nil
}

// DB exposes the underlying pool for migration tooling and tests.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// RequestContext derives a context bounded by the configured request timeout.
func (c *Connection) RequestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// HealthCheck verifies the database is reachable and answering queries.
// Used by the readiness endpoint; runs SELECT 1 with a 3 second timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return nil
}

// Close shuts down the connection pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

// isConnectionError classifies errors that indicate the database itself is
// unreachable rather than a problem with the statement. PostgreSQL class 08
// covers connection exceptions.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded)
}
