package stages

import (
	"context"
	"log/slog"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/learn"
	"github.com/neurogenx/neurogenx/internal/pipeline"
)

// Evaluate scores the champion on the held-out test split.
type Evaluate struct {
	Logger *slog.Logger
}

func (s *Evaluate) Name() string { return "evaluate" }

func (s *Evaluate) Requires() []pipeline.Key {
	return []pipeline.Key{KeyChampionPipeline, KeyXTest, KeyYTest}
}

func (s *Evaluate) Produces() []pipeline.Key { return []pipeline.Key{KeyMetrics} }

func (s *Evaluate) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	m, err := pipeline.Value[learn.Model](pc, KeyChampionPipeline)
	if err != nil {
		return nil, err
	}
	x, err := pipeline.Value[[][]float64](pc, KeyXTest)
	if err != nil {
		return nil, err
	}
	y, err := pipeline.Value[[]int](pc, KeyYTest)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics, err := learn.Evaluate(m, dataset.Labeled{X: x, Y: y})
	if err != nil {
		return nil, err
	}
	logger(s.Logger).Info("evaluate: champion scored on test split", "metrics", metrics)
	pc.Set(KeyMetrics, metrics)
	return pc, nil
}
