package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/learn"
	"github.com/neurogenx/neurogenx/internal/model"
	"github.com/neurogenx/neurogenx/internal/pipeline"
)

// Deploy writes the fitted champion to <ModelsDir>/<run_id>.json and
// registers its manifest as the current champion. Re-running it for the
// same run overwrites the same artifact.
type Deploy struct {
	ModelsDir string
	Registry  champion.Registry
	Now       func() time.Time
	Logger    *slog.Logger
}

func (s *Deploy) Name() string { return "deploy" }

func (s *Deploy) Requires() []pipeline.Key {
	return []pipeline.Key{KeyChampionPipeline, KeyRunID, KeyMetrics, KeyChampionGenome}
}

func (s *Deploy) Produces() []pipeline.Key { return []pipeline.Key{KeyChampionManifest} }

func (s *Deploy) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	m, err := pipeline.Value[learn.Model](pc, KeyChampionPipeline)
	if err != nil {
		return nil, err
	}
	runID, err := pipeline.Value[uuid.UUID](pc, KeyRunID)
	if err != nil {
		return nil, err
	}
	metrics, err := pipeline.Value[map[string]float64](pc, KeyMetrics)
	if err != nil {
		return nil, err
	}
	genome, err := pipeline.Value[model.Candidate](pc, KeyChampionGenome)
	if err != nil {
		return nil, err
	}
	var best float64
	if pc.Has(KeyBestScore) {
		if best, err = pipeline.Value[float64](pc, KeyBestScore); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode champion: %w", err)
	}
	if err := os.MkdirAll(s.ModelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	path := filepath.Join(s.ModelsDir, runID.String()+".json")
	if err := champion.WriteFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("write champion artifact: %w", err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	manifest := model.ChampionManifest{
		RunID:             runID,
		Timestamp:         now().UTC(),
		Metrics:           metrics,
		Genome:            genome,
		BestScore:         best,
		ArtifactReference: path,
	}
	if s.Registry != nil {
		if err := s.Registry.RegisterChampion(ctx, manifest); err != nil {
			return nil, err
		}
	}
	logger(s.Logger).Info("deploy: champion registered", "run_id", runID, "path", path, "kind", genome.Kind)

	pc.Set(KeyChampionManifest, manifest)
	return pc, nil
}
