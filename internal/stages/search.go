package stages

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/google/uuid"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/learn"
	"github.com/neurogenx/neurogenx/internal/pipeline"
	"github.com/neurogenx/neurogenx/internal/search"
)

// ScorerFactory builds the scorer for one run from its preprocessing
// description.
type ScorerFactory func(pre learn.Preprocessor, seed uint64) search.Scorer

// DefaultScorer returns the cross-validating learn backend with folds.
func DefaultScorer(folds int) ScorerFactory {
	return func(pre learn.Preprocessor, seed uint64) search.Scorer {
		return learn.NewBackend(pre, folds, seed)
	}
}

// Search runs the budgeted search loop over the training split.
//
// Trial events go to the Reporter found under KeyReporter in the Context,
// falling back to the stage's own Reporter. With Seed zero each run is
// seeded from its run id, so distinct runs explore different candidates
// while any single run stays reproducible.
type Search struct {
	Space     search.Space
	NewScorer ScorerFactory
	Reporter  search.Reporter
	Seed      uint64
	Logger    *slog.Logger
}

func (s *Search) Name() string { return "search" }

func (s *Search) Requires() []pipeline.Key {
	return []pipeline.Key{KeyXTrain, KeyYTrain, KeyPreprocessor, KeyRunID, KeyBudget}
}

func (s *Search) Produces() []pipeline.Key {
	return []pipeline.Key{KeyChampionPipeline, KeyChampionGenome, KeyBestScore, KeyTrialsFailed}
}

func (s *Search) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	x, err := pipeline.Value[[][]float64](pc, KeyXTrain)
	if err != nil {
		return nil, err
	}
	y, err := pipeline.Value[[]int](pc, KeyYTrain)
	if err != nil {
		return nil, err
	}
	pre, err := pipeline.Value[learn.Preprocessor](pc, KeyPreprocessor)
	if err != nil {
		return nil, err
	}
	runID, err := pipeline.Value[uuid.UUID](pc, KeyRunID)
	if err != nil {
		return nil, err
	}
	budget, err := pipeline.Value[int](pc, KeyBudget)
	if err != nil {
		return nil, err
	}
	reporter := s.Reporter
	if pc.Has(KeyReporter) {
		if reporter, err = pipeline.Value[search.Reporter](pc, KeyReporter); err != nil {
			return nil, err
		}
	}

	space := s.Space
	if len(space.Kinds) == 0 {
		space = search.DefaultSpace()
	}
	newScorer := s.NewScorer
	if newScorer == nil {
		newScorer = DefaultScorer(learn.DefaultFolds)
	}
	seed := s.Seed
	if seed == 0 {
		seed = binary.BigEndian.Uint64(runID[:8])
	}

	loop := &search.Loop{
		RunID:    runID,
		Budget:   budget,
		Sampler:  search.NewRandomSampler(space, seed),
		Scorer:   newScorer(pre, seed),
		Reporter: reporter,
		Logger:   logger(s.Logger),
	}
	res, err := loop.Run(ctx, dataset.Labeled{X: x, Y: y})
	if err != nil {
		return nil, err
	}

	pc.Set(KeyChampionPipeline, res.Champion)
	pc.Set(KeyChampionGenome, res.Candidate)
	pc.Set(KeyBestScore, res.BestScore)
	pc.Set(KeyTrialsFailed, res.Failed)
	return pc, nil
}
