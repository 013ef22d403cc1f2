// Package testutil provides shared test infrastructure: a throwaway
// Postgres container for storage integration tests and synthetic datasets.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if !testing.Short() {
//	        if tc, err := testutil.StartPostgres(); err == nil {
//	            defer tc.Terminate()
//	            testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	        }
//	    }
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/neurogenx/neurogenx/internal/storage"
	"github.com/neurogenx/neurogenx/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres starts a Postgres container. It returns an error rather
// than exiting so callers can skip when Docker is unavailable.
func StartPostgres() (tc *TestContainer, err error) {
	ctx := context.Background()

	// testcontainers panics instead of erroring on some hosts without Docker.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("testutil: start container: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "neurogenx",
			"POSTGRES_PASSWORD": "neurogenx",
			"POSTGRES_DB":       "neurogenx",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://neurogenx:neurogenx@%s:%s/neurogenx?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}, nil
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if _, err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
