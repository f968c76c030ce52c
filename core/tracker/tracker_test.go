package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpo-orchestrator/core/governor"
	"hpo-orchestrator/core/models"
)

func newTestTracker(t *testing.T, candidates, folds int, cfg Config, observers ...Observer) (*Tracker, *governor.Governor) {
	t.Helper()
	gov := governor.New(candidates * folds)
	return New(candidates, folds, gov, cfg, observers...), gov
}

func submit(t *testing.T, tr *Tracker, gov *governor.Governor, key PairKey, name string) {
	t.Helper()
	require.True(t, gov.TryAcquire())
	require.True(t, tr.ReserveSubmission())
	require.NoError(t, tr.MarkSubmitted(key, name))
}

func TestSeedsEveryPairPending(t *testing.T) {
	tr, _ := newTestTracker(t, 2, 3, Config{MaxJobs: 6, RetryLimit: 2, RetryBackoff: time.Second})

	jobs := tr.Jobs()
	require.Len(t, jobs, 6)
	for _, j := range jobs {
		assert.Equal(t, models.JobStatePending, j.State)
	}
	// Candidate-major seeding order.
	assert.Equal(t, 0, jobs[0].CandidateIndex)
	assert.Equal(t, 0, jobs[0].FoldIndex)
	assert.Equal(t, 0, jobs[2].CandidateIndex)
	assert.Equal(t, 2, jobs[2].FoldIndex)
	assert.Equal(t, 1, jobs[3].CandidateIndex)
	assert.Equal(t, 0, jobs[3].FoldIndex)
}

func TestHappyPathTransitions(t *testing.T) {
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 1, RetryLimit: 2, RetryBackoff: time.Second})
	key := PairKey{Candidate: 0, Fold: 0}

	submit(t, tr, gov, key, "job-a")
	j, ok := tr.JobByName("job-a")
	require.True(t, ok)
	assert.Equal(t, models.JobStateSubmitted, j.State)
	assert.False(t, j.SubmittedAt.IsZero())
	assert.Equal(t, 1, gov.InFlight())

	require.NoError(t, tr.MarkRunning("job-a"))
	require.NoError(t, tr.MarkRunning("job-a")) // repeated poll result is a no-op

	metric := 0.91
	require.NoError(t, tr.MarkCompleted("job-a", &metric))
	j, _ = tr.JobByName("job-a")
	assert.Equal(t, models.JobStateCompleted, j.State)
	require.NotNil(t, j.MetricValue)
	assert.Equal(t, 0.91, *j.MetricValue)
	assert.False(t, j.TerminalAt.IsZero())
	assert.Equal(t, 0, gov.InFlight(), "slot released on terminal state")
	assert.True(t, tr.Settled())
}

func TestRetryThenExhaustion(t *testing.T) {
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 10, RetryLimit: 2, RetryBackoff: time.Minute})
	key := PairKey{Candidate: 0, Fold: 0}

	submit(t, tr, gov, key, "job-a1")
	require.NoError(t, tr.MarkFailed("job-a1", "AlgorithmError: exit 1"))
	j, _ := tr.Job(key)
	assert.Equal(t, models.JobStateRetrying, j.State)
	assert.Equal(t, 1, j.RetryCount)
	assert.True(t, j.NextAttemptAt.After(time.Now().Add(30*time.Second)))
	assert.Equal(t, 0, gov.InFlight(), "retrying does not hold a slot")

	submit(t, tr, gov, key, "job-a2")
	j, _ = tr.Job(key)
	assert.Equal(t, "job-a2", j.Name)
	require.NoError(t, tr.MarkFailed("job-a2", "AlgorithmError: exit 1"))
	j, _ = tr.Job(key)
	assert.Equal(t, models.JobStateRetrying, j.State)
	assert.Equal(t, 2, j.RetryCount)
	// Backoff doubles per retry.
	assert.True(t, j.NextAttemptAt.After(time.Now().Add(90*time.Second)))

	submit(t, tr, gov, key, "job-a3")
	require.NoError(t, tr.MarkFailed("job-a3", "AlgorithmError: exit 1"))
	j, _ = tr.Job(key)
	assert.Equal(t, models.JobStateFailed, j.State)
	assert.Equal(t, 2, j.RetryCount)
	assert.True(t, tr.Settled())
}

func TestRetryLimitZeroFailsImmediately(t *testing.T) {
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 5, RetryLimit: 0, RetryBackoff: time.Second})
	submit(t, tr, gov, PairKey{}, "job-a")

	require.NoError(t, tr.MarkFailed("job-a", "boom"))
	j, _ := tr.Job(PairKey{})
	assert.Equal(t, models.JobStateFailed, j.State)
}

func TestStoppedIsTerminalWithoutRetry(t *testing.T) {
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 5, RetryLimit: 2, RetryBackoff: time.Second})
	submit(t, tr, gov, PairKey{}, "job-a")
	require.NoError(t, tr.MarkRunning("job-a"))

	require.NoError(t, tr.MarkStopped("job-a", "wall-clock budget exceeded"))
	j, _ := tr.Job(PairKey{})
	assert.Equal(t, models.JobStateStopped, j.State)
	assert.Equal(t, 0, j.RetryCount)
	assert.Equal(t, 0, gov.InFlight())
	assert.True(t, tr.Settled())
}

func TestSubmissionFailedIsTerminal(t *testing.T) {
	tr, _ := newTestTracker(t, 1, 2, Config{MaxJobs: 5, RetryLimit: 2, RetryBackoff: time.Second})
	key := PairKey{Candidate: 0, Fold: 0}

	require.True(t, tr.ReserveSubmission())
	require.NoError(t, tr.MarkSubmissionFailed(key, "AccessDeniedException: not authorized"))
	j, _ := tr.Job(key)
	assert.Equal(t, models.JobStateSubmissionFailed, j.State)
	assert.Equal(t, "AccessDeniedException: not authorized", j.FailureReason)

	// The pair cannot be submitted again.
	assert.Error(t, tr.MarkSubmitted(key, "job-x"))
}

func TestBudgetExhaustedFinalizesRetryingPair(t *testing.T) {
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 1, RetryLimit: 2, RetryBackoff: time.Second})
	submit(t, tr, gov, PairKey{}, "job-a")
	require.NoError(t, tr.MarkFailed("job-a", "boom"))

	assert.False(t, tr.ReserveSubmission())
	require.NoError(t, tr.MarkBudgetExhausted(PairKey{}))
	j, _ := tr.Job(PairKey{})
	assert.Equal(t, models.JobStateFailed, j.State)
	assert.Equal(t, "submission budget exhausted", j.FailureReason)
	assert.True(t, tr.Settled())
}

func TestReserveSubmissionEnforcesMaxJobs(t *testing.T) {
	tr, _ := newTestTracker(t, 2, 2, Config{MaxJobs: 3, RetryLimit: 2, RetryBackoff: time.Second})
	assert.True(t, tr.ReserveSubmission())
	assert.True(t, tr.ReserveSubmission())
	assert.True(t, tr.ReserveSubmission())
	assert.False(t, tr.ReserveSubmission())
	assert.Equal(t, 3, tr.SubmittedTotal())
}

func TestSettledWithPendingAndExhaustedBudget(t *testing.T) {
	tr, gov := newTestTracker(t, 2, 1, Config{MaxJobs: 1, RetryLimit: 0, RetryBackoff: time.Second})
	assert.False(t, tr.Settled(), "pending pairs with budget left")

	submit(t, tr, gov, PairKey{Candidate: 0, Fold: 0}, "job-a")
	assert.False(t, tr.Settled(), "job in flight")

	m := 0.5
	require.NoError(t, tr.MarkCompleted("job-a", &m))
	assert.True(t, tr.Settled(), "second pair is pending but unaffordable")
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 5, RetryLimit: 2, RetryBackoff: time.Second})
	submit(t, tr, gov, PairKey{}, "job-a")
	assert.Error(t, tr.MarkSubmitted(PairKey{}, "job-b"))
}

func TestInvalidTransitionsRejected(t *testing.T) {
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 5, RetryLimit: 2, RetryBackoff: time.Second})

	assert.Error(t, tr.MarkRunning("nope"))

	submit(t, tr, gov, PairKey{}, "job-a")
	m := 0.4
	require.NoError(t, tr.MarkCompleted("job-a", &m))
	assert.Error(t, tr.MarkFailed("job-a", "late report"))
	assert.Error(t, tr.MarkStopped("job-a", "late report"))
	assert.Error(t, tr.MarkCompleted("job-a", &m))
}

func TestInFlightNames(t *testing.T) {
	tr, gov := newTestTracker(t, 2, 1, Config{MaxJobs: 5, RetryLimit: 2, RetryBackoff: time.Second})
	submit(t, tr, gov, PairKey{Candidate: 0, Fold: 0}, "job-a")
	submit(t, tr, gov, PairKey{Candidate: 1, Fold: 0}, "job-b")
	require.NoError(t, tr.MarkRunning("job-b"))

	assert.Equal(t, []string{"job-a", "job-b"}, tr.InFlightNames())

	m := 0.7
	require.NoError(t, tr.MarkCompleted("job-b", &m))
	assert.Equal(t, []string{"job-a"}, tr.InFlightNames())
}

type recordingObserver struct {
	events []models.JobEvent
}

func (r *recordingObserver) JobTransition(_ models.TrainingJob, ev models.JobEvent) {
	r.events = append(r.events, ev)
}

func TestObserverSeesTransitions(t *testing.T) {
	obs := &recordingObserver{}
	tr, gov := newTestTracker(t, 1, 1, Config{MaxJobs: 5, RetryLimit: 2, RetryBackoff: time.Second}, obs)

	submit(t, tr, gov, PairKey{}, "job-a")
	require.NoError(t, tr.MarkRunning("job-a"))
	m := 0.9
	require.NoError(t, tr.MarkCompleted("job-a", &m))

	require.Len(t, obs.events, 3)
	assert.Equal(t, models.JobStateSubmitted, obs.events[0].To)
	assert.Equal(t, models.JobStateRunning, obs.events[1].To)
	assert.Equal(t, models.JobStateCompleted, obs.events[2].To)
}

func TestStateCounts(t *testing.T) {
	tr, gov := newTestTracker(t, 3, 1, Config{MaxJobs: 5, RetryLimit: 2, RetryBackoff: time.Second})
	submit(t, tr, gov, PairKey{Candidate: 0, Fold: 0}, "job-a")

	counts := tr.StateCounts()
	assert.Equal(t, 2, counts[models.JobStatePending])
	assert.Equal(t, 1, counts[models.JobStateSubmitted])
}
