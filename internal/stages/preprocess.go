package stages

import (
	"context"
	"log/slog"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/learn"
	"github.com/neurogenx/neurogenx/internal/pipeline"
)

// Default split parameters.
const (
	DefaultTestFraction = 0.2
	DefaultSplitSeed    = 42
)

// Preprocess separates the target, makes a stratified train/test split,
// and describes the feature scaling that later stages fit per pipeline.
type Preprocess struct {
	TestFraction float64
	Seed         uint64
	Logger       *slog.Logger
}

func (s *Preprocess) Name() string { return "preprocess" }

func (s *Preprocess) Requires() []pipeline.Key { return []pipeline.Key{KeyFrame, KeyTarget} }

func (s *Preprocess) Produces() []pipeline.Key {
	return []pipeline.Key{KeyXTrain, KeyYTrain, KeyXTest, KeyYTest, KeyPreprocessor}
}

func (s *Preprocess) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	frame, err := pipeline.Value[*dataset.Frame](pc, KeyFrame)
	if err != nil {
		return nil, err
	}
	target, err := pipeline.Value[string](pc, KeyTarget)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, features, err := frame.Split(target)
	if err != nil {
		return nil, err
	}
	frac := s.TestFraction
	if frac == 0 {
		frac = DefaultTestFraction
	}
	trainIdx, testIdx, err := dataset.StratifiedSplit(data.Y, frac, s.Seed)
	if err != nil {
		return nil, err
	}
	train, test := data.Subset(trainIdx), data.Subset(testIdx)
	logger(s.Logger).Info("preprocess: split dataset",
		"target", target, "features", len(features), "train_rows", train.Len(), "test_rows", test.Len())

	pc.Set(KeyXTrain, train.X)
	pc.Set(KeyYTrain, train.Y)
	pc.Set(KeyXTest, test.X)
	pc.Set(KeyYTest, test.Y)
	pc.Set(KeyPreprocessor, learn.Preprocessor{Scaling: learn.ScalingStandard, Features: features})
	return pc, nil
}
