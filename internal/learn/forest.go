package learn

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// RandomForest is an ensemble of gini-split decision trees, each grown on
// a bootstrap sample with sqrt(features) candidates per split.
type RandomForest struct {
	NEstimators     int     `json:"n_estimators"`
	MaxDepth        int     `json:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split"`
	Seed            uint64  `json:"seed"`
	Trees           []*Tree `json:"trees"`
}

// Tree is a binary decision tree stored as a flat node slice; node 0 is
// the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is one tree node. Leaves carry the fraction of positive samples
// that reached them.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value"`
}

// Fit grows NEstimators trees.
func (f *RandomForest) Fit(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("learn: forest fit: %d rows, %d labels", len(x), len(y))
	}
	if f.NEstimators <= 0 {
		return fmt.Errorf("learn: forest fit: n_estimators must be positive, got %d", f.NEstimators)
	}
	if f.MaxDepth <= 0 {
		return fmt.Errorf("learn: forest fit: max_depth must be positive, got %d", f.MaxDepth)
	}
	if f.MinSamplesSplit < 2 {
		f.MinSamplesSplit = 2
	}
	d := len(x[0])
	mtry := max(1, int(math.Sqrt(float64(d))))
	rng := rand.New(rand.NewPCG(f.Seed, f.Seed+1))

	f.Trees = make([]*Tree, f.NEstimators)
	for t := range f.Trees {
		sample := make([]int, len(x))
		for i := range sample {
			sample[i] = rng.IntN(len(x))
		}
		g := grower{x: x, y: y, mtry: mtry, maxDepth: f.MaxDepth, minSplit: f.MinSamplesSplit, rng: rng, features: d}
		tree := &Tree{}
		g.grow(tree, sample, 0)
		f.Trees[t] = tree
	}
	return nil
}

// PredictProba averages the trees' leaf values.
func (f *RandomForest) PredictProba(x [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("learn: forest predict: model is not fitted")
	}
	out := make([]float64, len(x))
	for i, row := range x {
		var sum float64
		for _, t := range f.Trees {
			v, err := t.predict(row)
			if err != nil {
				return nil, fmt.Errorf("learn: forest predict row %d: %w", i, err)
			}
			sum += v
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out, nil
}

func (t *Tree) predict(row []float64) (float64, error) {
	i := 0
	for range len(t.Nodes) {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value, nil
		}
		if n.Feature >= len(row) {
			return 0, fmt.Errorf("split on feature %d, row has %d", n.Feature, len(row))
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return 0, fmt.Errorf("malformed tree")
}

type grower struct {
	x        [][]float64
	y        []int
	features int
	mtry     int
	maxDepth int
	minSplit int
	rng      *rand.Rand
}

// grow appends the subtree for samples and returns its node index.
func (g *grower) grow(t *Tree, samples []int, depth int) int {
	pos := 0
	for _, s := range samples {
		pos += g.y[s]
	}
	value := float64(pos) / float64(len(samples))
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Leaf: true, Value: value})

	if depth >= g.maxDepth || len(samples) < g.minSplit || pos == 0 || pos == len(samples) {
		return idx
	}
	feature, threshold, ok := g.bestSplit(samples, pos)
	if !ok {
		return idx
	}
	var left, right []int
	for _, s := range samples {
		if g.x[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	l := g.grow(t, left, depth+1)
	r := g.grow(t, right, depth+1)
	t.Nodes[idx] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: value}
	return idx
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

func (g *grower) bestSplit(samples []int, pos int) (int, float64, bool) {
	n := len(samples)
	best := gini(pos, n) * float64(n)
	bestFeature, bestThreshold, found := 0, 0.0, false

	candidates := g.rng.Perm(g.features)[:g.mtry]
	sorted := slices.Clone(samples)
	for _, feat := range candidates {
		slices.SortFunc(sorted, func(a, b int) int { return cmp.Compare(g.x[a][feat], g.x[b][feat]) })
		leftPos := 0
		for i := 0; i < n-1; i++ {
			leftPos += g.y[sorted[i]]
			lo, hi := g.x[sorted[i]][feat], g.x[sorted[i+1]][feat]
			if lo == hi {
				continue
			}
			nl, nr := i+1, n-i-1
			impurity := gini(leftPos, nl)*float64(nl) + gini(pos-leftPos, nr)*float64(nr)
			if impurity < best-1e-12 {
				best = impurity
				bestFeature, bestThreshold, found = feat, (lo+hi)/2, true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
