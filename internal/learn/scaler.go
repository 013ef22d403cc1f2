// Package learn provides the default model backend: a standard scaler,
// logistic regression, a random forest, binary classification metrics, and
// a cross-validating scorer.
package learn

import (
	"errors"
	"fmt"
	"math"
)

// Scaling names a feature transformation.
type Scaling string

const (
	ScalingStandard Scaling = "standard"
	ScalingNone     Scaling = "none"
)

// Preprocessor describes how features are transformed before fitting. It
// is a description only; the transform is fitted inside each Pipeline on
// that pipeline's training rows.
type Preprocessor struct {
	Scaling  Scaling  `json:"scaling"`
	Features []string `json:"features,omitempty"`
}

// StandardScaler centres each column and scales it to unit variance.
// Constant columns are centred and left unscaled.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and standard deviation.
func FitScaler(x [][]float64) (*StandardScaler, error) {
	if len(x) == 0 {
		return nil, errors.New("learn: fit scaler: no rows")
	}
	d := len(x[0])
	s := &StandardScaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	n := float64(len(x))
	for _, row := range x {
		if len(row) != d {
			return nil, fmt.Errorf("learn: fit scaler: ragged row of width %d, want %d", len(row), d)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range x {
		for j, v := range row {
			diff := v - s.Mean[j]
			s.Scale[j] += diff * diff
		}
	}
	for j := range s.Scale {
		sd := math.Sqrt(s.Scale[j] / n)
		if sd < 1e-12 {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return s, nil
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("learn: transform: row %d has width %d, want %d", i, len(row), len(s.Mean))
		}
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out, nil
}
