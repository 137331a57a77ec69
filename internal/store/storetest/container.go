// Package storetest spins up a disposable Postgres container and a fully
// migrated Store for use by the store package's integration suites.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dawnstore-io/dawnstore/internal/config"
	"github.com/dawnstore-io/dawnstore/internal/database"
	"github.com/dawnstore-io/dawnstore/internal/observability"
	"github.com/dawnstore-io/dawnstore/internal/store"
)

// NewStore starts a Postgres container, runs migrations against it and
// returns a ready-to-use Store. The container and connection are torn
// down automatically when the test completes.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	conn := NewConnection(t)
	return store.New(conn, observability.NewMetrics(), nil)
}

// NewConnection starts a Postgres container, runs migrations against it
// and returns the raw, migrated connection. Prefer NewStore unless the
// test needs to exercise the persistence layer or caches directly.
func NewConnection(t *testing.T) *database.Connection {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dawnstore_test"),
		postgres.WithUsername("dawnstore"),
		postgres.WithPassword("dawnstore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:           host,
		Port:           port.Int(),
		User:           "dawnstore",
		Password:       "dawnstore",
		Database:       "dawnstore_test",
		SSLMode:        "disable",
		MaxConnections: 5,
		MinConnections: 1,
		MigrationsPath: "migrations",
	}

	conn, err := database.NewConnection(dbCfg)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(conn.Close)

	if err := conn.Migrate(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return conn
}
