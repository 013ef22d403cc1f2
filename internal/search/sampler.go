package search

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/model"
)

// Sampler produces candidate configurations.
type Sampler interface {
	Sample() model.Candidate
}

// RandomSampler draws every candidate independently and uniformly from a
// Space. The same seed yields the same sequence.
type RandomSampler struct {
	space Space

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler returns a sampler over space seeded with seed.
func NewRandomSampler(space Space, seed uint64) *RandomSampler {
	return &RandomSampler{space: space, rng: dataset.NewRand(seed)}
}

// Sample draws a kind, then each of its parameters in name order.
func (s *RandomSampler) Sample() model.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.space.Kinds[s.rng.IntN(len(s.space.Kinds))]
	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	slices.Sort(names)

	params := make(map[string]any, len(names))
	for _, name := range names {
		p := k.Params[name]
		switch p.Type {
		case ParamFloat:
			params[name] = p.Min + s.rng.Float64()*(p.Max-p.Min)
		case ParamInt:
			lo, hi := int(p.Min), int(p.Max)
			params[name] = lo + s.rng.IntN(hi-lo+1)
		case ParamChoice:
			params[name] = p.Values[s.rng.IntN(len(p.Values))]
		}
	}
	return model.Candidate{Kind: k.Kind, Params: params}
}
