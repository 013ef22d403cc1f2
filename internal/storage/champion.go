package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/model"
)

// RegisterChampion replaces the current champion manifest.
func (db *DB) RegisterChampion(ctx context.Context, m model.ChampionManifest) error {
	return db.retryWrite(ctx, "register_champion", m.RunID, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO champion_manifests (slot, run_id, manifest, registered_at)
			 VALUES ('current', $1, $2, now())
			 ON CONFLICT (slot) DO UPDATE SET
			     run_id = EXCLUDED.run_id,
			     manifest = EXCLUDED.manifest,
			     registered_at = EXCLUDED.registered_at`,
			m.RunID, m,
		)
		if err != nil {
			return fmt.Errorf("storage: register champion: %w", err)
		}
		return nil
	})
}

// CurrentChampion returns the current manifest or champion.ErrNoChampion.
func (db *DB) CurrentChampion(ctx context.Context) (*model.ChampionManifest, error) {
	var m model.ChampionManifest
	err := db.pool.QueryRow(ctx, `SELECT manifest FROM champion_manifests WHERE slot = 'current'`).Scan(&m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, champion.ErrNoChampion
		}
		return nil, fmt.Errorf("storage: current champion: %w", err)
	}
	return &m, nil
}
