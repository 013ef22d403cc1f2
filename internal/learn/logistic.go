package learn

import (
	"errors"
	"fmt"
	"math"
)

// Solvers accepted by LogisticRegression.
const (
	SolverLiblinear = "liblinear"
	SolverLBFGS     = "lbfgs"
)

// LogisticRegression is an L2-regularised binary logistic model. C is the
// inverse regularisation strength.
//
// The "lbfgs" solver runs full-batch gradient descent with a step bounded
// by the loss's Lipschitz constant; "liblinear" runs cyclic coordinate
// descent with a per-coordinate curvature bound. Both minimise the same
// objective and converge to the same optimum.
type LogisticRegression struct {
	C       float64   `json:"C"`
	Solver  string    `json:"solver"`
	MaxIter int       `json:"max_iter"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

const logisticTol = 1e-6

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Fit estimates weights from x and binary labels y.
func (m *LogisticRegression) Fit(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("learn: logistic fit: %d rows, %d labels", len(x), len(y))
	}
	if m.C <= 0 {
		return fmt.Errorf("learn: logistic fit: C must be positive, got %v", m.C)
	}
	if m.MaxIter <= 0 {
		m.MaxIter = 200
	}
	d := len(x[0])
	m.Weights = make([]float64, d)
	m.Bias = 0
	switch m.Solver {
	case SolverLBFGS, "":
		m.Solver = SolverLBFGS
		m.gradientDescent(x, y)
	case SolverLiblinear:
		m.coordinateDescent(x, y)
	default:
		return fmt.Errorf("learn: unknown solver %q", m.Solver)
	}
	for _, w := range append([]float64{m.Bias}, m.Weights...) {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.New("learn: logistic fit diverged")
		}
	}
	return nil
}

func (m *LogisticRegression) lambda(n int) float64 {
	return 1 / (m.C * float64(n))
}

func (m *LogisticRegression) gradientDescent(x [][]float64, y []int) {
	n, d := len(x), len(m.Weights)
	lambda := m.lambda(n)
	var trace float64
	for _, row := range x {
		for _, v := range row {
			trace += v * v
		}
	}
	step := 1 / (0.25*(trace/float64(n)+1) + lambda)

	grad := make([]float64, d)
	for range m.MaxIter {
		clear(grad)
		var gb float64
		for i, row := range x {
			r := m.prob(row) - float64(y[i])
			for j, v := range row {
				grad[j] += r * v
			}
			gb += r
		}
		var norm float64
		for j := range grad {
			grad[j] = grad[j]/float64(n) + lambda*m.Weights[j]
			norm += grad[j] * grad[j]
			m.Weights[j] -= step * grad[j]
		}
		gb /= float64(n)
		m.Bias -= step * gb
		if math.Sqrt(norm+gb*gb) < logisticTol {
			return
		}
	}
}

func (m *LogisticRegression) coordinateDescent(x [][]float64, y []int) {
	n, d := len(x), len(m.Weights)
	lambda := m.lambda(n)
	z := make([]float64, n)
	curv := make([]float64, d)
	for _, row := range x {
		for j, v := range row {
			curv[j] += v * v
		}
	}
	for j := range curv {
		curv[j] = 0.25*curv[j]/float64(n) + lambda
	}

	for range m.MaxIter {
		var maxDelta float64
		for j := range d {
			var g float64
			for i, row := range x {
				g += (sigmoid(z[i]) - float64(y[i])) * row[j]
			}
			g = g/float64(n) + lambda*m.Weights[j]
			delta := -g / curv[j]
			m.Weights[j] += delta
			for i, row := range x {
				z[i] += delta * row[j]
			}
			maxDelta = max(maxDelta, math.Abs(delta))
		}
		var gb float64
		for i := range x {
			gb += sigmoid(z[i]) - float64(y[i])
		}
		delta := -(gb / float64(n)) / 0.25
		m.Bias += delta
		for i := range z {
			z[i] += delta
		}
		maxDelta = max(maxDelta, math.Abs(delta))
		if maxDelta < logisticTol {
			return
		}
	}
}

func (m *LogisticRegression) prob(row []float64) float64 {
	z := m.Bias
	for j, v := range row {
		z += m.Weights[j] * v
	}
	return sigmoid(z)
}

// PredictProba returns P(y=1) for each row.
func (m *LogisticRegression) PredictProba(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("learn: logistic predict: row %d has width %d, want %d", i, len(row), len(m.Weights))
		}
		out[i] = m.prob(row)
	}
	return out, nil
}
