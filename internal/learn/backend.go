package learn

import (
	"context"
	"fmt"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/model"
)

// DefaultFolds is the cross-validation fold count used when none is set.
const DefaultFolds = 5

// Backend scores candidates by stratified k-fold cross-validated ROC AUC
// and fits them on full training data. It holds no mutable state and is
// safe for concurrent use.
type Backend struct {
	pre   Preprocessor
	folds int
	seed  uint64
}

// NewBackend returns a backend that fits pre inside every pipeline it
// builds. folds <= 1 selects DefaultFolds.
func NewBackend(pre Preprocessor, folds int, seed uint64) *Backend {
	if folds <= 1 {
		folds = DefaultFolds
	}
	return &Backend{pre: pre, folds: folds, seed: seed}
}

// Score returns the mean held-out ROC AUC of c over the folds of d.
func (b *Backend) Score(ctx context.Context, c model.Candidate, d dataset.Labeled) (float64, error) {
	folds, err := dataset.StratifiedKFold(d.Y, b.folds, b.seed)
	if err != nil {
		return 0, err
	}
	var total float64
	for k, held := range folds {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p, err := NewPipeline(b.pre, c, b.seed+uint64(k))
		if err != nil {
			return 0, err
		}
		if err := p.Fit(ctx, d.Subset(dataset.Complement(d.Len(), held))); err != nil {
			return 0, fmt.Errorf("fold %d: %w", k, err)
		}
		test := d.Subset(held)
		probs, err := p.PredictProba(test.X)
		if err != nil {
			return 0, fmt.Errorf("fold %d: %w", k, err)
		}
		auc, err := ROCAUC(test.Y, probs)
		if err != nil {
			return 0, fmt.Errorf("fold %d: %w", k, err)
		}
		total += auc
	}
	return total / float64(len(folds)), nil
}

// Fit builds c's pipeline and fits it on all of d.
func (b *Backend) Fit(ctx context.Context, c model.Candidate, d dataset.Labeled) (Model, error) {
	p, err := NewPipeline(b.pre, c, b.seed)
	if err != nil {
		return nil, err
	}
	if err := p.Fit(ctx, d); err != nil {
		return nil, err
	}
	return p, nil
}

// Evaluate computes the held-out metrics reported for a champion.
func Evaluate(m Model, test dataset.Labeled) (map[string]float64, error) {
	probs, err := m.PredictProba(test.X)
	if err != nil {
		return nil, err
	}
	roc, err := ROCAUC(test.Y, probs)
	if err != nil {
		return nil, err
	}
	pr, err := PRAUC(test.Y, probs)
	if err != nil {
		return nil, err
	}
	f1, err := F1(test.Y, probs, 0.5)
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		model.MetricROCAUC:  roc,
		model.MetricPRAUC:   pr,
		model.MetricF1Score: f1,
	}, nil
}
