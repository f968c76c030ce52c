// Package tracker owns the in-memory TrainingJob records and serializes
// every state transition.
package tracker

import (
	"fmt"
	"log"
	"sync"
	"time"

	"hpo-orchestrator/core/governor"
	"hpo-orchestrator/core/models"
)

// PairKey identifies a (candidate, fold) pair.
type PairKey struct {
	Candidate int
	Fold      int
}

// Observer receives job state transitions as they are recorded.
type Observer interface {
	JobTransition(job models.TrainingJob, event models.JobEvent)
}

// Config bounds retry and submission behavior.
type Config struct {
	MaxJobs      int           // total submission attempts allowed for the run
	RetryLimit   int           // resubmissions allowed per pair after remote failures
	RetryBackoff time.Duration // base delay before the first resubmission, doubled per retry
}

// Tracker is the single writer for all TrainingJob records. Each job record
// is touched by at most one caller at a time; the internal mutex protects the
// maps and slot accounting.
type Tracker struct {
	mu        sync.RWMutex
	cfg       Config
	gov       *governor.Governor
	jobs      map[PairKey]*models.TrainingJob
	order     []PairKey
	byName    map[string]PairKey
	submitted int
	observers []Observer
}

// New seeds one pending record per (candidate, fold) pair in candidate-major
// order. Seeding every pair up front is what rules out duplicate submissions.
func New(candidates, folds int, gov *governor.Governor, cfg Config, observers ...Observer) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		gov:       gov,
		jobs:      make(map[PairKey]*models.TrainingJob, candidates*folds),
		byName:    make(map[string]PairKey),
		observers: observers,
	}
	for c := 0; c < candidates; c++ {
		for f := 0; f < folds; f++ {
			key := PairKey{Candidate: c, Fold: f}
			t.jobs[key] = &models.TrainingJob{
				CandidateIndex: c,
				FoldIndex:      f,
				State:          models.JobStatePending,
			}
			t.order = append(t.order, key)
		}
	}
	return t
}

// ReserveSubmission consumes one unit of the submission budget, reporting
// false once max jobs is reached. Every remote submission attempt, including
// resubmissions, must reserve first.
func (t *Tracker) ReserveSubmission() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submitted >= t.cfg.MaxJobs {
		return false
	}
	t.submitted++
	return true
}

// MarkSubmitted records a successful remote submission under the given name.
func (t *Tracker) MarkSubmitted(key PairKey, name string) error {
	t.mu.Lock()
	j, ok := t.jobs[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown pair candidate %d fold %d", key.Candidate, key.Fold)
	}
	if j.State != models.JobStatePending && j.State != models.JobStateRetrying {
		t.mu.Unlock()
		return t.invalidTransition(j, models.JobStateSubmitted)
	}
	j.Name = name
	j.SubmittedAt = time.Now()
	t.byName[name] = key
	ev := t.transition(j, models.JobStateSubmitted, fmt.Sprintf("attempt %d", j.RetryCount+1))
	snap := j.Clone()
	t.mu.Unlock()

	t.notify(snap, ev)
	return nil
}

// MarkSubmissionFailed records a failed remote submission. The pair is
// terminal: submission failures are not retried and leave a missing data
// point for the candidate.
func (t *Tracker) MarkSubmissionFailed(key PairKey, reason string) error {
	t.mu.Lock()
	j, ok := t.jobs[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown pair candidate %d fold %d", key.Candidate, key.Fold)
	}
	if j.State != models.JobStatePending && j.State != models.JobStateRetrying {
		t.mu.Unlock()
		return t.invalidTransition(j, models.JobStateSubmissionFailed)
	}
	j.FailureReason = reason
	ev := t.transition(j, models.JobStateSubmissionFailed, reason)
	snap := j.Clone()
	t.mu.Unlock()

	t.notify(snap, ev)
	return nil
}

// MarkRunning records that the remote job has started. Repeated reports for
// an already running job are ignored.
func (t *Tracker) MarkRunning(name string) error {
	t.mu.Lock()
	j, err := t.byNameLocked(name)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if j.State == models.JobStateRunning {
		t.mu.Unlock()
		return nil
	}
	if j.State != models.JobStateSubmitted {
		t.mu.Unlock()
		return t.invalidTransition(j, models.JobStateRunning)
	}
	ev := t.transition(j, models.JobStateRunning, "")
	snap := j.Clone()
	t.mu.Unlock()

	t.notify(snap, ev)
	return nil
}

// MarkCompleted records a successful remote job and its final metric. A nil
// metric means the training image never emitted one; the pair then counts as
// a missing data point during aggregation.
func (t *Tracker) MarkCompleted(name string, metric *float64) error {
	t.mu.Lock()
	j, err := t.byNameLocked(name)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !j.State.HoldsSlot() {
		t.mu.Unlock()
		return t.invalidTransition(j, models.JobStateCompleted)
	}
	j.MetricValue = metric
	if metric == nil {
		log.Printf("Job %s completed without a final metric value", name)
	}
	ev := t.transition(j, models.JobStateCompleted, "")
	snap := j.Clone()
	t.mu.Unlock()

	t.notify(snap, ev)
	return nil
}

// MarkFailed records a remote failure. While the retry limit allows, the pair
// moves to retrying with an exponential resubmission backoff; afterwards it
// lands terminal failed.
func (t *Tracker) MarkFailed(name, reason string) error {
	t.mu.Lock()
	j, err := t.byNameLocked(name)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !j.State.HoldsSlot() {
		t.mu.Unlock()
		return t.invalidTransition(j, models.JobStateFailed)
	}
	j.FailureReason = reason
	var ev models.JobEvent
	if j.RetryCount < t.cfg.RetryLimit {
		j.RetryCount++
		backoff := t.cfg.RetryBackoff * time.Duration(1<<(j.RetryCount-1))
		j.NextAttemptAt = time.Now().Add(backoff)
		ev = t.transition(j, models.JobStateRetrying, reason)
	} else {
		ev = t.transition(j, models.JobStateFailed, reason)
	}
	snap := j.Clone()
	t.mu.Unlock()

	t.notify(snap, ev)
	return nil
}

// MarkStopped records a remote stop or wall-clock timeout. Stops are never
// retried.
func (t *Tracker) MarkStopped(name, reason string) error {
	t.mu.Lock()
	j, err := t.byNameLocked(name)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !j.State.HoldsSlot() {
		t.mu.Unlock()
		return t.invalidTransition(j, models.JobStateStopped)
	}
	j.FailureReason = reason
	ev := t.transition(j, models.JobStateStopped, reason)
	snap := j.Clone()
	t.mu.Unlock()

	t.notify(snap, ev)
	return nil
}

// MarkBudgetExhausted finalizes a retrying pair whose resubmission can no
// longer be afforded.
func (t *Tracker) MarkBudgetExhausted(key PairKey) error {
	t.mu.Lock()
	j, ok := t.jobs[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown pair candidate %d fold %d", key.Candidate, key.Fold)
	}
	if j.State != models.JobStateRetrying {
		t.mu.Unlock()
		return t.invalidTransition(j, models.JobStateFailed)
	}
	const reason = "submission budget exhausted"
	j.FailureReason = reason
	ev := t.transition(j, models.JobStateFailed, reason)
	snap := j.Clone()
	t.mu.Unlock()

	t.notify(snap, ev)
	return nil
}

// Job returns a copy of the record for the pair.
func (t *Tracker) Job(key PairKey) (models.TrainingJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[key]
	if !ok {
		return models.TrainingJob{}, false
	}
	return j.Clone(), true
}

// JobByName returns a copy of the record submitted under the given name.
func (t *Tracker) JobByName(name string) (models.TrainingJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.byName[name]
	if !ok {
		return models.TrainingJob{}, false
	}
	return t.jobs[key].Clone(), true
}

// Jobs returns copies of every record in seeding order.
func (t *Tracker) Jobs() []models.TrainingJob {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.TrainingJob, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.jobs[key].Clone())
	}
	return out
}

// InFlightNames returns the remote names of jobs currently holding a slot.
func (t *Tracker) InFlightNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for _, key := range t.order {
		j := t.jobs[key]
		if j.State.HoldsSlot() {
			names = append(names, j.Name)
		}
	}
	return names
}

// StateCounts returns the number of records per state.
func (t *Tracker) StateCounts() map[models.JobState]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[models.JobState]int)
	for _, j := range t.jobs {
		counts[j.State]++
	}
	return counts
}

// SubmittedTotal returns the number of submission attempts so far.
func (t *Tracker) SubmittedTotal() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.submitted
}

// Settled reports whether the run can stop polling: nothing is in flight or
// awaiting a retry, and the remaining pending pairs, if any, can no longer be
// afforded.
func (t *Tracker) Settled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pending := 0
	for _, j := range t.jobs {
		switch j.State {
		case models.JobStateSubmitted, models.JobStateRunning, models.JobStateRetrying:
			return false
		case models.JobStatePending:
			pending++
		}
	}
	return pending == 0 || t.submitted >= t.cfg.MaxJobs
}

// transition mutates the record and handles slot accounting. Callers hold the
// lock and have already validated the edge.
func (t *Tracker) transition(j *models.TrainingJob, to models.JobState, reason string) models.JobEvent {
	ev := models.JobEvent{At: time.Now(), From: j.State, To: to, Reason: reason}
	from := j.State
	j.State = to
	j.Events = append(j.Events, ev)
	if to.Terminal() {
		j.TerminalAt = ev.At
	}
	if from.HoldsSlot() && !to.HoldsSlot() {
		t.gov.Release()
	}
	if reason != "" {
		log.Printf("Job candidate %d fold %d: %s -> %s (%s)", j.CandidateIndex, j.FoldIndex, from, to, reason)
	} else {
		log.Printf("Job candidate %d fold %d: %s -> %s", j.CandidateIndex, j.FoldIndex, from, to)
	}
	return ev
}

func (t *Tracker) byNameLocked(name string) (*models.TrainingJob, error) {
	key, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", name)
	}
	return t.jobs[key], nil
}

func (t *Tracker) invalidTransition(j *models.TrainingJob, to models.JobState) error {
	return fmt.Errorf("job candidate %d fold %d: invalid transition %s -> %s", j.CandidateIndex, j.FoldIndex, j.State, to)
}

func (t *Tracker) notify(job models.TrainingJob, ev models.JobEvent) {
	for _, o := range t.observers {
		o.JobTransition(job, ev)
	}
}
