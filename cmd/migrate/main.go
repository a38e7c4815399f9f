// Command migrate applies the SQL files under migrations/ in order,
// tracking applied IDs in a schema_migrations table. Rollbacks are not
// supported; a bad migration gets a follow-up migration instead.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/config"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/telemetry"
)

var (
	action = flag.String("action", "up", "Migration action: up or status")
	dir    = flag.String("dir", "migrations", "Directory holding the *.sql migration files")
	steps  = flag.Int("steps", 0, "Apply at most this many pending migrations (0 = all)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	m := &migrator{db: db, dir: *dir, logger: logger}
	ctx := context.Background()

	switch *action {
	case "up":
		err = m.up(ctx, *steps)
	case "status":
		err = m.status(ctx)
	default:
		logger.Error("unknown action", "action", *action)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

type migrator struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger
}

func (m *migrator) up(ctx context.Context, steps int) error {
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.Info("no pending migrations")
		return nil
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	for _, file := range pending {
		if err := m.apply(ctx, file); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(file), err)
		}
		m.logger.Info("applied migration", "file", filepath.Base(file))
	}
	m.logger.Info("migrations completed", "applied", len(pending))
	return nil
}

func (m *migrator) status(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	m.logger.Info("migration status", "applied", len(applied), "pending", len(pending))
	for _, file := range pending {
		m.logger.Info("pending migration", "id", extractMigrationID(filepath.Base(file)))
	}
	return nil
}

// applied returns the set of migration IDs recorded in schema_migrations,
// creating the table on first use.
func (m *migrator) applied(ctx context.Context) (map[string]time.Time, error) {
	const ensure = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id         VARCHAR(255) PRIMARY KEY,
			filename   VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := m.db.ExecContext(ctx, ensure); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT id, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations row: %w", err)
		}
		applied[id] = at
	}
	return applied, rows.Err()
}

func (m *migrator) pending(ctx context.Context) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(m.dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migration files: %w", err)
	}
	sort.Strings(files)

	var pending []string
	for _, file := range files {
		if _, ok := applied[extractMigrationID(filepath.Base(file))]; !ok {
			pending = append(pending, file)
		}
	}
	return pending, nil
}

// apply runs one migration file and records it, both inside a single
// transaction so a failed migration leaves no record behind.
func (m *migrator) apply(ctx context.Context, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (id, filename) VALUES ($1, $2)",
		extractMigrationID(filepath.Base(file)), filepath.Base(file),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

func extractMigrationID(filename string) string {
	return strings.TrimSuffix(filename, ".sql")
}
