package neurogenx

import (
	"context"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/model"
)

// Public names for the domain types an embedding program sees. They alias
// the internal types so values pass across the boundary without copying.
type (
	RunStatus        = model.RunStatus
	RunRequest       = model.RunRequest
	RunRecord        = model.RunRecord
	TrialEvent       = model.TrialEvent
	Candidate        = model.Candidate
	ChampionManifest = model.ChampionManifest
)

var (
	// ErrRunNotFound is returned by GetStatus and CancelRun for unknown ids.
	ErrRunNotFound = model.ErrRunNotFound
	// ErrNoChampion is what a ChampionRegistry returns before the first
	// champion is registered.
	ErrNoChampion = champion.ErrNoChampion
)

// Observer receives every serialized telemetry envelope
// (`{"type":"status_update"|"trial_update","data":...}`). Returning an
// error unregisters it. Receive may be called concurrently from different
// runs and must not block. Implementations must be comparable, which in
// practice means a pointer type.
type Observer interface {
	Receive(msg []byte) error
}

// ChampionRegistry replaces the configured champion store when passed to
// WithChampionRegistry. CurrentChampion returns ErrNoChampion when empty.
type ChampionRegistry interface {
	RegisterChampion(ctx context.Context, m ChampionManifest) error
	CurrentChampion(ctx context.Context) (*ChampionManifest, error)
}
