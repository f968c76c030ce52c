package search

import (
	"math"
	"math/rand"

	"hpo-orchestrator/core/models"
)

// Sampler selects how candidate values are drawn from parameter ranges.
type Sampler string

const (
	// SamplerSpaced places candidates at evenly spaced points in each
	// parameter's scale space, endpoints inclusive.
	SamplerSpaced Sampler = "spaced"
	// SamplerRandom draws candidates uniformly in scale space from a
	// seeded source, so a run is reproducible for a given seed.
	SamplerRandom Sampler = "random"
)

// CandidateCount returns how many candidates a budget of maxJobs affords
// across k folds. Each candidate costs one job per fold, so the count is
// maxJobs / k; a budget that cannot cover a single full sweep is rejected.
func CandidateCount(maxJobs, k int) (int, error) {
	n := 0
	if k > 0 {
		n = maxJobs / k
	}
	if n < 1 {
		return 0, &InsufficientBudgetError{MaxJobs: maxJobs, Folds: k}
	}
	return n, nil
}

// Generate produces the ordered candidate set for the search space. With the
// spaced sampler, each parameter is sampled at n points in its scale space and
// candidate i takes the i-th value of every parameter; a single-candidate run
// takes the scale-space midpoint. Generation is deterministic for a given
// space, count, sampler and seed, and never touches the network.
func Generate(params []models.Parameter, n int, sampler Sampler, seed int64) ([]models.HyperparameterCandidate, error) {
	if err := validateSpace(params); err != nil {
		return nil, err
	}

	values := make([][]float64, len(params))
	switch sampler {
	case SamplerRandom:
		rng := rand.New(rand.NewSource(seed))
		for i := range params {
			values[i] = make([]float64, n)
		}
		for c := 0; c < n; c++ {
			for i, p := range params {
				values[i][c] = randomValue(p, rng)
			}
		}
	default:
		for i, p := range params {
			values[i] = spacedValues(p, n)
		}
	}

	candidates := make([]models.HyperparameterCandidate, n)
	for c := 0; c < n; c++ {
		pv := make([]models.ParamValue, len(params))
		for i, p := range params {
			pv[i] = models.ParamValue{Name: p.Name, Value: values[i][c]}
		}
		candidates[c] = models.HyperparameterCandidate{Index: c, Params: pv}
	}
	return candidates, nil
}

func validateSpace(params []models.Parameter) error {
	if len(params) == 0 {
		return &InvalidRangeError{Reason: "no parameters defined"}
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return &InvalidRangeError{Min: p.Bounds.Min, Max: p.Bounds.Max, Reason: "parameter name is empty"}
		}
		if seen[p.Name] {
			return &InvalidRangeError{Param: p.Name, Min: p.Bounds.Min, Max: p.Bounds.Max, Reason: "duplicate parameter name"}
		}
		seen[p.Name] = true
		if !p.Bounds.Valid() {
			return &InvalidRangeError{Param: p.Name, Min: p.Bounds.Min, Max: p.Bounds.Max, Reason: "min exceeds max"}
		}
		if p.Scale == models.ScalingLogarithmic && p.Bounds.Min <= 0 {
			return &InvalidRangeError{Param: p.Name, Min: p.Bounds.Min, Max: p.Bounds.Max, Reason: "log scaling requires a positive minimum"}
		}
	}
	return nil
}

// spacedValues samples n points across the parameter's range. Endpoints are
// pinned to the configured bounds so they survive the scale round trip.
func spacedValues(p models.Parameter, n int) []float64 {
	lo, hi := p.Bounds.Min, p.Bounds.Max
	if p.Scale == models.ScalingLogarithmic {
		lo, hi = math.Log(lo), math.Log(hi)
	}

	vals := make([]float64, n)
	if n == 1 {
		vals[0] = fromScale(p, lo+(hi-lo)/2)
	} else {
		step := (hi - lo) / float64(n-1)
		for i := range vals {
			vals[i] = fromScale(p, lo+float64(i)*step)
		}
		vals[0] = p.Bounds.Min
		vals[n-1] = p.Bounds.Max
	}
	if p.Integer {
		for i := range vals {
			vals[i] = math.Round(vals[i])
		}
	}
	return vals
}

func randomValue(p models.Parameter, rng *rand.Rand) float64 {
	lo, hi := p.Bounds.Min, p.Bounds.Max
	if p.Scale == models.ScalingLogarithmic {
		lo, hi = math.Log(lo), math.Log(hi)
	}
	v := fromScale(p, lo+rng.Float64()*(hi-lo))
	if p.Integer {
		v = math.Round(v)
	}
	return v
}

func fromScale(p models.Parameter, v float64) float64 {
	if p.Scale == models.ScalingLogarithmic {
		return math.Exp(v)
	}
	return v
}
