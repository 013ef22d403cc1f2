// Package search runs the budgeted model-search loop: it samples candidate
// model configurations, scores each one, reports every trial as it
// finishes, and refits the best candidate.
package search

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neurogenx/neurogenx/internal/learn"
)

// ParamType is the distribution a parameter is drawn from.
type ParamType string

const (
	ParamFloat  ParamType = "float"  // uniform on [min, max)
	ParamInt    ParamType = "int"    // uniform on [min, max], inclusive
	ParamChoice ParamType = "choice" // uniform over values
)

// Param describes one sampled hyperparameter.
type Param struct {
	Type   ParamType `yaml:"type" json:"type"`
	Min    float64   `yaml:"min,omitempty" json:"min,omitempty"`
	Max    float64   `yaml:"max,omitempty" json:"max,omitempty"`
	Values []string  `yaml:"values,omitempty" json:"values,omitempty"`
}

// Kind is a model family and the parameters sampled for it.
type Kind struct {
	Kind   string           `yaml:"kind" json:"kind"`
	Params map[string]Param `yaml:"params" json:"params"`
}

// Space is the set of model families the sampler chooses between, each
// with equal probability.
type Space struct {
	Kinds []Kind `yaml:"kinds" json:"kinds"`
}

// DefaultSpace is logistic regression over C and solver, and random forest
// over tree count and depth.
func DefaultSpace() Space {
	return Space{Kinds: []Kind{
		{
			Kind: learn.KindLogisticRegression,
			Params: map[string]Param{
				learn.ParamC:      {Type: ParamFloat, Min: 0.1, Max: 10},
				learn.ParamSolver: {Type: ParamChoice, Values: []string{learn.SolverLiblinear, learn.SolverLBFGS}},
			},
		},
		{
			Kind: learn.KindRandomForest,
			Params: map[string]Param{
				learn.ParamNEstimators: {Type: ParamInt, Min: 50, Max: 200},
				learn.ParamMaxDepth:    {Type: ParamInt, Min: 5, Max: 20},
			},
		},
	}}
}

// LoadSpace reads a YAML search space from path.
func LoadSpace(path string) (Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Space{}, fmt.Errorf("search: read space: %w", err)
	}
	return ParseSpace(data)
}

// ParseSpace decodes and validates a YAML search space.
func ParseSpace(data []byte) (Space, error) {
	var s Space
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Space{}, fmt.Errorf("search: parse space: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Space{}, err
	}
	return s, nil
}

// Validate checks that every kind is named and every parameter range is
// well formed.
func (s Space) Validate() error {
	if len(s.Kinds) == 0 {
		return errors.New("search: space has no kinds")
	}
	seen := make(map[string]struct{}, len(s.Kinds))
	for _, k := range s.Kinds {
		if k.Kind == "" {
			return errors.New("search: space has a kind with no name")
		}
		if _, dup := seen[k.Kind]; dup {
			return fmt.Errorf("search: kind %q listed twice", k.Kind)
		}
		seen[k.Kind] = struct{}{}
		for name, p := range k.Params {
			if err := p.validate(); err != nil {
				return fmt.Errorf("search: %s.%s: %w", k.Kind, name, err)
			}
		}
	}
	return nil
}

func (p Param) validate() error {
	switch p.Type {
	case ParamFloat:
		if p.Max <= p.Min {
			return fmt.Errorf("max %v must exceed min %v", p.Max, p.Min)
		}
	case ParamInt:
		if p.Max < p.Min || p.Min != float64(int(p.Min)) || p.Max != float64(int(p.Max)) {
			return fmt.Errorf("integer range [%v, %v] is invalid", p.Min, p.Max)
		}
	case ParamChoice:
		if len(p.Values) == 0 {
			return errors.New("choice has no values")
		}
	default:
		return fmt.Errorf("unknown parameter type %q", p.Type)
	}
	return nil
}
