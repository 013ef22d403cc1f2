// Package champion persists the manifest of the most recently deployed
// winning model. Every registry holds a single "current" slot with
// last-write-wins semantics.
package champion

import (
	"context"
	"errors"

	"github.com/neurogenx/neurogenx/internal/model"
)

// ErrNoChampion is returned when nothing has been registered yet.
var ErrNoChampion = errors.New("champion: no champion registered")

// Registry stores and returns the current champion manifest.
type Registry interface {
	RegisterChampion(ctx context.Context, m model.ChampionManifest) error
	CurrentChampion(ctx context.Context) (*model.ChampionManifest, error)
}
