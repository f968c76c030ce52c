package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpo-orchestrator/core/models"
)

func candidates(n int) []models.HyperparameterCandidate {
	out := make([]models.HyperparameterCandidate, n)
	for i := range out {
		out[i] = models.HyperparameterCandidate{
			Index: i,
			Params: []models.ParamValue{
				{Name: "c", Value: 0.1 + 0.4*float64(i)},
				{Name: "gamma", Value: 1e-4 + 4e-4*float64(i)},
			},
		}
	}
	return out
}

func completedJob(cand, fold int, name string, metric float64) models.TrainingJob {
	return models.TrainingJob{
		Name:           name,
		CandidateIndex: cand,
		FoldIndex:      fold,
		State:          models.JobStateCompleted,
		MetricValue:    &metric,
	}
}

func TestSelectHighestMeanWins(t *testing.T) {
	jobs := []models.TrainingJob{
		completedJob(0, 0, "c0-f0", 0.80),
		completedJob(0, 1, "c0-f1", 0.82),
		completedJob(0, 2, "c0-f2", 0.78),
		completedJob(1, 0, "c1-f0", 0.85),
		completedJob(1, 1, "c1-f1", 0.83),
		completedJob(1, 2, "c1-f2", 0.87),
	}

	sel, err := New(3).Select(candidates(2), jobs)
	require.NoError(t, err)
	assert.Equal(t, 1, sel.Candidate.Index)
	assert.InDelta(t, 0.85, sel.Mean, 1e-12)
	assert.Equal(t, []float64{0.85, 0.83, 0.87}, sel.PerFoldMetrics)
	assert.Equal(t, "c1-f2", sel.BestJobName)
}

func TestSelectMeanAgreesWithPerFoldMetrics(t *testing.T) {
	jobs := []models.TrainingJob{
		completedJob(0, 0, "c0-f0", 0.912345678),
		completedJob(0, 1, "c0-f1", 0.887654321),
		completedJob(0, 2, "c0-f2", 0.901111111),
	}

	sel, err := New(3).Select(candidates(1), jobs)
	require.NoError(t, err)

	sum := 0.0
	for _, m := range sel.PerFoldMetrics {
		sum += m
	}
	mean := sum / float64(len(sel.PerFoldMetrics))
	assert.InEpsilon(t, mean, sel.Mean, 1e-9)
}

func TestSelectTieBreaksToLowestIndex(t *testing.T) {
	jobs := []models.TrainingJob{
		completedJob(0, 0, "c0-f0", 0.80),
		completedJob(0, 1, "c0-f1", 0.80),
		completedJob(0, 2, "c0-f2", 0.80),
		completedJob(1, 0, "c1-f0", 0.75),
		completedJob(1, 1, "c1-f1", 0.85),
		completedJob(1, 2, "c1-f2", 0.80),
	}

	sel, err := New(3).Select(candidates(2), jobs)
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Candidate.Index, "equal means resolve to the lowest candidate index")
}

func TestSelectExcludesPartialCoverage(t *testing.T) {
	// Candidate 1 has the better mean on its completed folds but lost fold 2
	// to a stop, so candidate 0 must win.
	stopped := models.TrainingJob{
		Name:           "c1-f2",
		CandidateIndex: 1,
		FoldIndex:      2,
		State:          models.JobStateStopped,
		FailureReason:  "wall-clock budget exceeded",
	}
	jobs := []models.TrainingJob{
		completedJob(0, 0, "c0-f0", 0.70),
		completedJob(0, 1, "c0-f1", 0.71),
		completedJob(0, 2, "c0-f2", 0.72),
		completedJob(1, 0, "c1-f0", 0.95),
		completedJob(1, 1, "c1-f1", 0.96),
		stopped,
	}

	sel, err := New(3).Select(candidates(2), jobs)
	require.NoError(t, err)
	assert.Equal(t, 0, sel.Candidate.Index)
}

func TestSelectIgnoresCompletedJobWithoutMetric(t *testing.T) {
	noMetric := models.TrainingJob{
		Name:           "c0-f1",
		CandidateIndex: 0,
		FoldIndex:      1,
		State:          models.JobStateCompleted,
	}
	jobs := []models.TrainingJob{
		completedJob(0, 0, "c0-f0", 0.9),
		noMetric,
	}

	_, err := New(2).Select(candidates(1), jobs)
	var noViable *NoViableCandidateError
	require.ErrorAs(t, err, &noViable)
}

func TestSelectNoViableCandidate(t *testing.T) {
	jobs := []models.TrainingJob{
		{CandidateIndex: 0, FoldIndex: 0, State: models.JobStateFailed},
		{CandidateIndex: 0, FoldIndex: 1, State: models.JobStateSubmissionFailed},
		{CandidateIndex: 1, FoldIndex: 0, State: models.JobStatePending},
		{CandidateIndex: 1, FoldIndex: 1, State: models.JobStatePending},
	}

	_, err := New(2).Select(candidates(2), jobs)
	var noViable *NoViableCandidateError
	require.ErrorAs(t, err, &noViable)
	assert.Equal(t, 2, noViable.Candidates)
	assert.Equal(t, 2, noViable.Folds)
}

func TestBestJobNameTieBreaksToLowestFold(t *testing.T) {
	jobs := []models.TrainingJob{
		completedJob(0, 0, "c0-f0", 0.90),
		completedJob(0, 1, "c0-f1", 0.90),
		completedJob(0, 2, "c0-f2", 0.80),
	}

	sel, err := New(3).Select(candidates(1), jobs)
	require.NoError(t, err)
	assert.Equal(t, "c0-f0", sel.BestJobName)
}

func TestNearlyEqual(t *testing.T) {
	assert.True(t, nearlyEqual(0.8, 0.8))
	assert.True(t, nearlyEqual(0.8, 0.8+1e-16))
	assert.False(t, nearlyEqual(0.8, 0.8000001))
	assert.True(t, nearlyEqual(0.0, 0.0))
}
