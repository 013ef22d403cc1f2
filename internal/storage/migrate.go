package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"

	"github.com/jackc/pgx/v5"
)

// RunMigrations applies the *.sql files of migrationsFS that are not yet
// recorded in schema_migrations, in lexical order, and returns the names
// it applied. Each file and its bookkeeping row commit in one transaction,
// so a failed file leaves nothing half-recorded and is retried on the next
// start.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) ([]string, error) {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	pending, err := db.pendingMigrations(ctx, migrationsFS)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(pending))
	for _, name := range pending {
		body, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return applied, fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("storage: apply migration %s: %w", name, err)
		}
		db.logger.Info("storage: migration applied", "version", name)
		applied = append(applied, name)
	}
	if len(applied) == 0 {
		db.logger.Debug("storage: schema up to date")
	}
	return applied, nil
}

// pendingMigrations lists the *.sql files not yet recorded, sorted.
func (db *DB) pendingMigrations(ctx context.Context, migrationsFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("storage: read migrations: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("storage: load applied migrations: %w", err)
	}
	done, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: load applied migrations: %w", err)
	}

	var pending []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" || slices.Contains(done, e.Name()) {
			continue
		}
		pending = append(pending, e.Name())
	}
	slices.Sort(pending)
	return pending, nil
}
