package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpo-orchestrator/core/models"
)

func svmSpace() []models.Parameter {
	return []models.Parameter{
		{Name: "c", Bounds: models.Range[float64]{Min: 0.1, Max: 0.5}, Scale: models.ScalingLinear},
		{Name: "gamma", Bounds: models.Range[float64]{Min: 1e-4, Max: 5e-4}, Scale: models.ScalingLogarithmic},
	}
}

func TestCandidateCount(t *testing.T) {
	n, err := CandidateCount(6, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CandidateCount(7, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CandidateCount(3, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCandidateCountInsufficientBudget(t *testing.T) {
	_, err := CandidateCount(2, 3)
	var budgetErr *InsufficientBudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 2, budgetErr.MaxJobs)
	assert.Equal(t, 3, budgetErr.Folds)
}

func TestGenerateSpacedEndpoints(t *testing.T) {
	cands, err := Generate(svmSpace(), 2, SamplerSpaced, 0)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, 0, cands[0].Index)
	assert.Equal(t, 0.1, cands[0].Params[0].Value)
	assert.Equal(t, 1e-4, cands[0].Params[1].Value)
	assert.Equal(t, 1, cands[1].Index)
	assert.Equal(t, 0.5, cands[1].Params[0].Value)
	assert.Equal(t, 5e-4, cands[1].Params[1].Value)
}

func TestGenerateSpacedLogSpacing(t *testing.T) {
	space := []models.Parameter{
		{Name: "gamma", Bounds: models.Range[float64]{Min: 1e-4, Max: 1e-2}, Scale: models.ScalingLogarithmic},
	}
	cands, err := Generate(space, 3, SamplerSpaced, 0)
	require.NoError(t, err)
	require.Len(t, cands, 3)

	// Evenly spaced in log space: the middle value is the geometric mean.
	assert.Equal(t, 1e-4, cands[0].Params[0].Value)
	assert.InEpsilon(t, 1e-3, cands[1].Params[0].Value, 1e-9)
	assert.Equal(t, 1e-2, cands[2].Params[0].Value)
}

func TestGenerateSingleCandidateMidpoint(t *testing.T) {
	cands, err := Generate(svmSpace(), 1, SamplerSpaced, 0)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	assert.InEpsilon(t, 0.3, cands[0].Params[0].Value, 1e-12)
	geoMean := math.Sqrt(1e-4 * 5e-4)
	assert.InEpsilon(t, geoMean, cands[0].Params[1].Value, 1e-12)
}

func TestGenerateIntegerRounding(t *testing.T) {
	space := []models.Parameter{
		{Name: "rounds", Bounds: models.Range[float64]{Min: 10, Max: 100}, Scale: models.ScalingLinear, Integer: true},
	}
	cands, err := Generate(space, 4, SamplerSpaced, 0)
	require.NoError(t, err)
	for _, c := range cands {
		v := c.Params[0].Value
		assert.Equal(t, math.Trunc(v), v)
	}
}

func TestGenerateRandomDeterministicPerSeed(t *testing.T) {
	a, err := Generate(svmSpace(), 5, SamplerRandom, 42)
	require.NoError(t, err)
	b, err := Generate(svmSpace(), 5, SamplerRandom, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Generate(svmSpace(), 5, SamplerRandom, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerateRandomStaysInBounds(t *testing.T) {
	cands, err := Generate(svmSpace(), 50, SamplerRandom, 7)
	require.NoError(t, err)
	for _, cand := range cands {
		c := cand.Params[0].Value
		gamma := cand.Params[1].Value
		assert.GreaterOrEqual(t, c, 0.1)
		assert.LessOrEqual(t, c, 0.5)
		assert.GreaterOrEqual(t, gamma, 1e-4)
		assert.LessOrEqual(t, gamma, 5e-4)
	}
}

func TestGenerateRejectsInvalidRanges(t *testing.T) {
	cases := []struct {
		name  string
		space []models.Parameter
	}{
		{"min exceeds max", []models.Parameter{
			{Name: "c", Bounds: models.Range[float64]{Min: 1, Max: 0.5}, Scale: models.ScalingLinear},
		}},
		{"log with zero min", []models.Parameter{
			{Name: "gamma", Bounds: models.Range[float64]{Min: 0, Max: 1}, Scale: models.ScalingLogarithmic},
		}},
		{"log with negative min", []models.Parameter{
			{Name: "gamma", Bounds: models.Range[float64]{Min: -1, Max: 1}, Scale: models.ScalingLogarithmic},
		}},
		{"empty name", []models.Parameter{
			{Name: "", Bounds: models.Range[float64]{Min: 0, Max: 1}, Scale: models.ScalingLinear},
		}},
		{"duplicate name", []models.Parameter{
			{Name: "c", Bounds: models.Range[float64]{Min: 0, Max: 1}, Scale: models.ScalingLinear},
			{Name: "c", Bounds: models.Range[float64]{Min: 1, Max: 2}, Scale: models.ScalingLinear},
		}},
		{"no parameters", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Generate(tc.space, 2, SamplerSpaced, 0)
			var rangeErr *InvalidRangeError
			assert.ErrorAs(t, err, &rangeErr)
		})
	}
}

func TestGenerateEqualMinMax(t *testing.T) {
	space := []models.Parameter{
		{Name: "c", Bounds: models.Range[float64]{Min: 0.25, Max: 0.25}, Scale: models.ScalingLinear},
	}
	cands, err := Generate(space, 3, SamplerSpaced, 0)
	require.NoError(t, err)
	for _, c := range cands {
		assert.Equal(t, 0.25, c.Params[0].Value)
	}
}
