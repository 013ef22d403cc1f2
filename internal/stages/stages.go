package stages

import (
	"log/slog"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/learn"
	"github.com/neurogenx/neurogenx/internal/pipeline"
	"github.com/neurogenx/neurogenx/internal/search"
)

// Config collects what the default stages need.
type Config struct {
	DataDir           string
	ModelsDir         string
	AllowDatasetPaths bool
	TestFraction      float64
	Folds             int
	Seed              uint64
	Space             search.Space
	NewScorer         ScorerFactory
	Champions         champion.Registry
	Logger            *slog.Logger
}

// NewPipeline assembles ingest, preprocess, search, evaluate, and deploy.
func NewPipeline(cfg Config) (*pipeline.Pipeline, error) {
	newScorer := cfg.NewScorer
	if newScorer == nil {
		folds := cfg.Folds
		if folds == 0 {
			folds = learn.DefaultFolds
		}
		newScorer = DefaultScorer(folds)
	}
	return pipeline.New(SeedKeys,
		&Ingest{DataDir: cfg.DataDir, AllowPaths: cfg.AllowDatasetPaths, Logger: cfg.Logger},
		&Preprocess{TestFraction: cfg.TestFraction, Seed: DefaultSplitSeed, Logger: cfg.Logger},
		&Search{Space: cfg.Space, NewScorer: newScorer, Seed: cfg.Seed, Logger: cfg.Logger},
		&Evaluate{Logger: cfg.Logger},
		&Deploy{ModelsDir: cfg.ModelsDir, Registry: cfg.Champions, Logger: cfg.Logger},
	)
}
