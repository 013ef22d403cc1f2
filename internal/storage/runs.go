package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/neurogenx/neurogenx/internal/model"
)

// SaveRun upserts the snapshot of rec. A stale write never replaces a
// newer one: the row is only updated when rec.UpdatedAt is not older than
// the stored value.
func (db *DB) SaveRun(ctx context.Context, rec model.RunRecord) error {
	return db.retryWrite(ctx, "save_run", rec.RunID, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO runs (run_id, status, progress, dataset_id, target, snapshot, created_at, updated_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (run_id) DO UPDATE SET
			     status = EXCLUDED.status,
			     progress = EXCLUDED.progress,
			     snapshot = EXCLUDED.snapshot,
			     updated_at = EXCLUDED.updated_at,
			     completed_at = EXCLUDED.completed_at
			 WHERE runs.updated_at <= EXCLUDED.updated_at`,
			rec.RunID, string(rec.Status), rec.Progress, rec.DatasetID, rec.Target,
			rec, rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("storage: save run: %w", err)
		}
		return nil
	})
}

// GetRun returns the stored snapshot. Unknown ids yield an error wrapping
// both ErrNotFound and model.ErrRunNotFound.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.RunRecord, error) {
	var rec model.RunRecord
	err := db.pool.QueryRow(ctx, `SELECT snapshot FROM runs WHERE run_id = $1`, id).Scan(&rec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunRecord{}, notFound("run", id, model.ErrRunNotFound)
		}
		return model.RunRecord{}, fmt.Errorf("storage: get run: %w", err)
	}
	return rec, nil
}

// ListRuns returns up to limit snapshots, newest first, optionally
// filtered by status.
func (db *DB) ListRuns(ctx context.Context, status model.RunStatus, limit int) ([]model.RunRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT snapshot FROM runs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var rec model.RunRecord
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkInterrupted fails every stored run that is not terminal. It is run
// at startup: a run owned by a previous process can never finish.
func (db *DB) MarkInterrupted(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET
		     status = 'failed',
		     updated_at = $1,
		     completed_at = $1,
		     snapshot = snapshot || jsonb_build_object(
		         'status', 'failed',
		         'error', $2::text,
		         'updated_at', to_jsonb($1::timestamptz),
		         'completed_at', to_jsonb($1::timestamptz))
		 WHERE status NOT IN ('completed', 'failed', 'cancelled')`,
		now, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: mark interrupted runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
