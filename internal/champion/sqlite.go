package champion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neurogenx/neurogenx/internal/model"
)

const currentSlot = "current"

// SQLiteRegistry stores the current manifest in a single-row SQLite table.
type SQLiteRegistry struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRegistry, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("champion: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("champion: ping sqlite: %w", err)
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS champion (
		slot       TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL,
		manifest   TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("champion: create schema: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

func (r *SQLiteRegistry) RegisterChampion(ctx context.Context, m model.ChampionManifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("champion: encode manifest: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO champion (slot, run_id, manifest, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			run_id = excluded.run_id,
			manifest = excluded.manifest,
			updated_at = excluded.updated_at`,
		currentSlot, m.RunID.String(), string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("champion: upsert: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) CurrentChampion(ctx context.Context) (*model.ChampionManifest, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT manifest FROM champion WHERE slot = ?`, currentSlot).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoChampion
	}
	if err != nil {
		return nil, fmt.Errorf("champion: query: %w", err)
	}
	var m model.ChampionManifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("champion: decode manifest: %w", err)
	}
	return &m, nil
}

// Close releases the database handle.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}
