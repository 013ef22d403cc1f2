package learn

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/model"
)

// Model kinds and their parameter names.
const (
	KindLogisticRegression = "logistic_regression"
	KindRandomForest       = "random_forest"

	ParamC           = "C"
	ParamSolver      = "solver"
	ParamNEstimators = "n_estimators"
	ParamMaxDepth    = "max_depth"
)

// Model predicts the probability of the positive class.
type Model interface {
	PredictProba(x [][]float64) ([]float64, error)
}

type classifier interface {
	Model
	Fit(x [][]float64, y []int) error
}

// Pipeline chains the fitted preprocessing transform with a classifier.
// It serialises to JSON in full, so a deployed champion can be reloaded.
type Pipeline struct {
	Preprocessor Preprocessor        `json:"preprocessor"`
	Kind         string              `json:"kind"`
	Params       map[string]any      `json:"params"`
	Scaler       *StandardScaler     `json:"scaler,omitempty"`
	Logistic     *LogisticRegression `json:"logistic_regression,omitempty"`
	Forest       *RandomForest       `json:"random_forest,omitempty"`
}

// NewPipeline builds an unfitted pipeline for c. Unknown kinds and
// missing or mistyped parameters are errors.
func NewPipeline(pre Preprocessor, c model.Candidate, seed uint64) (*Pipeline, error) {
	p := &Pipeline{Preprocessor: pre, Kind: c.Kind, Params: c.Clone().Params}
	switch c.Kind {
	case KindLogisticRegression:
		cval, err := paramFloat(c.Params, ParamC)
		if err != nil {
			return nil, err
		}
		solver, _ := c.Params[ParamSolver].(string)
		p.Logistic = &LogisticRegression{C: cval, Solver: solver}
	case KindRandomForest:
		n, err := paramInt(c.Params, ParamNEstimators)
		if err != nil {
			return nil, err
		}
		depth, err := paramInt(c.Params, ParamMaxDepth)
		if err != nil {
			return nil, err
		}
		p.Forest = &RandomForest{NEstimators: n, MaxDepth: depth, Seed: seed}
	default:
		return nil, fmt.Errorf("learn: unknown model kind %q", c.Kind)
	}
	return p, nil
}

// Load decodes a pipeline written by json.Marshal.
func Load(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("learn: decode pipeline: %w", err)
	}
	if p.classifier() == nil {
		return nil, fmt.Errorf("learn: decode pipeline: no fitted %q classifier", p.Kind)
	}
	return &p, nil
}

func (p *Pipeline) classifier() classifier {
	switch {
	case p.Logistic != nil:
		return p.Logistic
	case p.Forest != nil:
		return p.Forest
	}
	return nil
}

// Fit fits the preprocessing transform and then the classifier on d.
func (p *Pipeline) Fit(ctx context.Context, d dataset.Labeled) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Len() == 0 {
		return fmt.Errorf("learn: fit %s: no training rows", p.Kind)
	}
	x := d.X
	if p.Preprocessor.Scaling == ScalingStandard {
		s, err := FitScaler(x)
		if err != nil {
			return err
		}
		if x, err = s.Transform(x); err != nil {
			return err
		}
		p.Scaler = s
	}
	clf := p.classifier()
	if clf == nil {
		return fmt.Errorf("learn: fit: pipeline has no classifier")
	}
	if err := clf.Fit(x, d.Y); err != nil {
		return fmt.Errorf("learn: fit %s: %w", p.Kind, err)
	}
	return nil
}

// PredictProba applies the fitted transform and classifier.
func (p *Pipeline) PredictProba(x [][]float64) ([]float64, error) {
	if p.Scaler != nil {
		var err error
		if x, err = p.Scaler.Transform(x); err != nil {
			return nil, err
		}
	}
	clf := p.classifier()
	if clf == nil {
		return nil, fmt.Errorf("learn: predict: pipeline has no classifier")
	}
	return clf.PredictProba(x)
}

func paramFloat(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case nil:
		return 0, fmt.Errorf("learn: missing parameter %q", key)
	default:
		return 0, fmt.Errorf("learn: parameter %q has type %T, want number", key, v)
	}
}

func paramInt(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("learn: parameter %q must be an integer, got %v", key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case nil:
		return 0, fmt.Errorf("learn: missing parameter %q", key)
	default:
		return 0, fmt.Errorf("learn: parameter %q has type %T, want integer", key, v)
	}
}
