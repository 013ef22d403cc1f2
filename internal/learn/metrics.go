package learn

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrSingleClass is returned by ranking metrics when y_true holds only one
// class.
var ErrSingleClass = errors.New("learn: only one class present in y_true")

// ErrNonFinite is returned by the metrics when a score is NaN or infinite.
var ErrNonFinite = errors.New("learn: non-finite score")

func checkScores(y []int, p []float64) error {
	if len(y) != len(p) {
		return fmt.Errorf("learn: %d labels, %d scores", len(y), len(p))
	}
	if len(y) == 0 {
		return errors.New("learn: no samples")
	}
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: score %v at index %d", ErrNonFinite, v, i)
		}
	}
	return nil
}

// ROCAUC is the area under the ROC curve, computed as the normalised
// Mann-Whitney U statistic with ties counted as half.
func ROCAUC(y []int, p []float64) (float64, error) {
	if err := checkScores(y, p); err != nil {
		return 0, err
	}
	order := make([]int, len(y))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return cmp.Compare(p[a], p[b]) })

	var pos int
	var rankSum float64
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && p[order[j]] == p[order[i]] {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if y[order[k]] == 1 {
				pos++
				rankSum += avgRank
			}
		}
		i = j
	}
	neg := len(y) - pos
	if pos == 0 || neg == 0 {
		return 0, ErrSingleClass
	}
	u := rankSum - float64(pos)*float64(pos+1)/2
	return u / (float64(pos) * float64(neg)), nil
}

// PRAUC is the trapezoidal area under the precision-recall curve, with the
// curve anchored at recall 0 and precision 1.
func PRAUC(y []int, p []float64) (float64, error) {
	if err := checkScores(y, p); err != nil {
		return 0, err
	}
	order := make([]int, len(y))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return cmp.Compare(p[b], p[a]) })

	total := 0
	for _, v := range y {
		total += v
	}
	if total == 0 {
		return 0, errors.New("learn: no positive samples in y_true")
	}

	var area float64
	prevRecall, prevPrecision := 0.0, 1.0
	tp, fp := 0, 0
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && p[order[j]] == p[order[i]] {
			if y[order[j]] == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		recall := float64(tp) / float64(total)
		precision := float64(tp) / float64(tp+fp)
		area += (recall - prevRecall) * (precision + prevPrecision) / 2
		prevRecall, prevPrecision = recall, precision
		i = j
	}
	return area, nil
}

// F1 is the F1 score of the positive class when probabilities strictly
// above threshold are predicted positive. It is 0 when there are no true
// or predicted positives.
func F1(y []int, p []float64, threshold float64) (float64, error) {
	if err := checkScores(y, p); err != nil {
		return 0, err
	}
	var tp, fp, fn int
	for i, prob := range p {
		predicted := prob > threshold
		switch {
		case predicted && y[i] == 1:
			tp++
		case predicted:
			fp++
		case y[i] == 1:
			fn++
		}
	}
	if 2*tp+fp+fn == 0 {
		return 0, nil
	}
	return float64(2*tp) / float64(2*tp+fp+fn), nil
}
