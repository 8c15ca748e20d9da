// Package sampler draws customers from the population with risk weighting.
package sampler

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/population"
)

// DefaultWeight applies to risk tiers with no entry in the table.
const DefaultWeight = 1.0

// DefaultWeights is the sampling weight per risk tier.
var DefaultWeights = map[domain.RiskTier]float64{
	domain.RiskLow:    1.0,
	domain.RiskMedium: 1.75,
	domain.RiskHigh:   2.5,
}

// Sampler draws customers with replacement.
type Sampler struct {
	pop *population.Population
	cdf []float64
}

// New builds a sampler over pop. weights may be nil for DefaultWeights.
func New(pop *population.Population, weights map[domain.RiskTier]float64) (*Sampler, error) {
	if pop == nil || pop.Len() == 0 {
		return nil, domain.NewGenerationError(domain.StageSampling, nil, "empty population")
	}
	if weights == nil {
		weights = DefaultWeights
	}

	cdf := make([]float64, pop.Len())
	total := 0.0
	for i := 0; i < pop.Len(); i++ {
		w, ok := weights[pop.At(i).RiskTier]
		if !ok {
			w = DefaultWeight
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, domain.NewGenerationError(domain.StageSampling, nil,
				"invalid weight %v for risk tier %q", w, pop.At(i).RiskTier)
		}
		total += w
		cdf[i] = total
	}
	if total <= 0 || math.IsInf(total, 0) {
		return nil, domain.NewGenerationError(domain.StageSampling, nil, "weights do not normalize (sum %v)", total)
	}
	for i := range cdf {
		cdf[i] /= total
	}
	cdf[len(cdf)-1] = 1

	return &Sampler{pop: pop, cdf: cdf}, nil
}

// Sample returns n customers drawn from r. The same r state and population
// always give the same sequence.
func (s *Sampler) Sample(r *rand.Rand, n int) ([]*domain.Customer, error) {
	if n < 0 {
		return nil, domain.NewGenerationError(domain.StageSampling, nil, "row count must be non-negative, got %d", n)
	}

	out := make([]*domain.Customer, n)
	for k := range out {
		u := r.Float64()
		i := sort.Search(len(s.cdf), func(j int) bool { return s.cdf[j] > u })
		if i >= len(s.cdf) {
			i = len(s.cdf) - 1
		}
		out[k] = s.pop.At(i)
	}
	return out, nil
}
