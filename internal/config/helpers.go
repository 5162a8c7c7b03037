// Package config provides configuration and shared test utilities for ProcPulse.
package config

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // used to run migrations using source files
)

const containerStartTimeout = 120 * time.Second

// TestDatabase holds the container and connection an integration test needs
// to clean up.
type TestDatabase struct {
	Container  *postgres.PostgresContainer
	Connection *sql.DB
}

// SetupTestDatabase starts a disposable PostgreSQL container, applies the
// schema migrations and returns the live connection. Integration tests across
// packages share this helper so they all run against the same schema.
//
// Callers guard with testing.Short() and register cleanup themselves:
//
//	testDB := config.SetupTestDatabase(ctx, t)
//	t.Cleanup(func() {
//		_ = testDB.Connection.Close()
//		_ = testcontainers.TerminateContainer(testDB.Container)
//	})
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	// Postgres logs readiness twice (initdb restart), so wait for the second.
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(containerStartTimeout)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("procpulse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(ready),
	)
	require.NoError(t, err, "starting postgres container")
	require.NotNil(t, container)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "resolving connection string")

	conn, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "opening database")

	if err := RunTestMigrations(conn); err != nil {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(container)

		t.Fatalf("applying migrations: %v", err)
	}

	return &TestDatabase{Container: container, Connection: conn}
}

// RunTestMigrations applies every migration against the given connection.
// The file:// source path is relative to the calling package; all internal/*
// packages sit at the same depth, so ../../migrations resolves for each.
func RunTestMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
