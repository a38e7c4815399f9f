// Package testutil starts throwaway infrastructure for integration tests.
// Tests that use it need a Docker daemon and are skipped in short mode.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewPostgresPool starts a disposable PostgreSQL container, applies every
// migration under migrationsDir in lexical order, and returns a pool
// connected to it. Container and pool are torn down with the test.
func NewPostgresPool(t *testing.T, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("safeguard_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if terr := pgContainer.Terminate(ctx); terr != nil {
			t.Logf("failed to terminate container: %v", terr)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applyMigrations(t, pool, migrationsDir)
	return pool
}

func applyMigrations(t *testing.T, pool *pgxpool.Pool, dir string) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no migration files under %s", dir)
	sort.Strings(files)

	for _, file := range files {
		content, rerr := os.ReadFile(file)
		require.NoError(t, rerr)
		_, rerr = pool.Exec(context.Background(), string(content))
		require.NoError(t, rerr, "migration %s", filepath.Base(file))
	}
}

// TruncateTables resets state between test cases sharing one container.
func TruncateTables(t *testing.T, pool *pgxpool.Pool, tables ...string) {
	t.Helper()
	for _, table := range tables {
		_, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err)
	}
}
