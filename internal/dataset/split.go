package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// byClass groups sample indices by label, in label order.
func byClass(y []int) [][]int {
	groups := make(map[int][]int)
	for i, label := range y {
		groups[label] = append(groups[label], i)
	}
	labels := make([]int, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	out := make([][]int, len(labels))
	for i, l := range labels {
		out[i] = groups[l]
	}
	return out
}

// StratifiedSplit returns train and test indices with every class
// represented in the test set in proportion to testFraction. Indices within
// each returned slice are sorted.
func StratifiedSplit(y []int, testFraction float64, seed uint64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("dataset: test fraction %v out of range (0, 1)", testFraction)
	}
	rng := NewRand(seed)
	for _, members := range byClass(y) {
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("dataset: a class has %d member(s); at least 2 are needed to stratify", len(members))
		}
		shuffled := slices.Clone(members)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		n := int(math.Round(float64(len(shuffled)) * testFraction))
		n = max(1, min(n, len(shuffled)-1))
		test = append(test, shuffled[:n]...)
		train = append(train, shuffled[n:]...)
	}
	slices.Sort(train)
	slices.Sort(test)
	return train, test, nil
}

// StratifiedKFold partitions sample indices into k folds whose class
// proportions match y's. Each returned slice is one fold's held-out set.
func StratifiedKFold(y []int, k int, seed uint64) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("dataset: k-fold needs k >= 2, got %d", k)
	}
	if len(y) < k {
		return nil, fmt.Errorf("dataset: %d samples cannot fill %d folds", len(y), k)
	}
	rng := NewRand(seed)
	folds := make([][]int, k)
	next := 0
	for _, members := range byClass(y) {
		shuffled := slices.Clone(members)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, idx := range shuffled {
			folds[next] = append(folds[next], idx)
			next = (next + 1) % k
		}
	}
	for _, f := range folds {
		slices.Sort(f)
	}
	return folds, nil
}

// Complement returns the indices in [0, n) that are not in held.
func Complement(n int, held []int) []int {
	skip := make(map[int]struct{}, len(held))
	for _, i := range held {
		skip[i] = struct{}{}
	}
	out := make([]int, 0, n-len(held))
	for i := range n {
		if _, ok := skip[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}
