// Package orchestrator drives a tuning run end to end: it submits one
// training job per (candidate, fold) pair under the concurrency and budget
// caps, polls the remote service until every pair settles, and publishes
// the evaluation artifacts for the winning candidate.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"hpo-orchestrator/core/aggregator"
	"hpo-orchestrator/core/artifacts"
	"hpo-orchestrator/core/governor"
	"hpo-orchestrator/core/launcher"
	"hpo-orchestrator/core/models"
	"hpo-orchestrator/core/tracker"
	awsx "hpo-orchestrator/providers/aws"
)

// Config bounds one tuning run.
type Config struct {
	RunID           string
	TaskName        string
	MetricName      string
	MaxJobs         int           // total submission attempts, including resubmissions
	MaxParallelJobs int           // jobs allowed in flight at once
	RetryLimit      int           // resubmissions per pair after remote failures
	RetryBackoff    time.Duration // base backoff before a resubmission
	PollInterval    time.Duration
	MaxRuntime      time.Duration // per-job wall clock limit, 0 disables the local check
	RequestTimeout  time.Duration // per remote call
}

// Orchestrator manages the tuning control loop.
type Orchestrator struct {
	cfg        Config
	svc        launcher.TrainingService
	launcher   *launcher.Launcher
	gov        *governor.Governor
	tracker    *tracker.Tracker
	aggregator *aggregator.Aggregator
	writer     *artifacts.Writer
	queue      *SubmissionQueue
	candidates []models.HyperparameterCandidate
	folds      []models.FoldSplit
}

// Result summarizes a finished run.
type Result struct {
	RunID          string
	Report         models.EvaluationReport
	Info           models.JobInfo
	Mean           float64
	SubmittedTotal int
	StateCounts    map[models.JobState]int
	Elapsed        time.Duration
}

// New creates an orchestrator for the given candidates and folds. The
// governor and job tracker are built here so every submission and poll in
// the run shares one set of caps.
func New(
	cfg Config,
	svc launcher.TrainingService,
	launch *launcher.Launcher,
	candidates []models.HyperparameterCandidate,
	folds []models.FoldSplit,
	writer *artifacts.Writer,
	observers ...tracker.Observer,
) *Orchestrator {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	gov := governor.New(cfg.MaxParallelJobs)
	trk := tracker.New(len(candidates), len(folds), gov, tracker.Config{
		MaxJobs:      cfg.MaxJobs,
		RetryLimit:   cfg.RetryLimit,
		RetryBackoff: cfg.RetryBackoff,
	}, observers...)

	return &Orchestrator{
		cfg:        cfg,
		svc:        svc,
		launcher:   launch,
		gov:        gov,
		tracker:    trk,
		aggregator: aggregator.New(len(folds)),
		writer:     writer,
		queue:      NewSubmissionQueue(),
		candidates: candidates,
		folds:      folds,
	}
}

// Tracker exposes the job records for status reporting.
func (o *Orchestrator) Tracker() *tracker.Tracker {
	return o.tracker
}

// RunID returns the identifier artifacts are staged under.
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

// Run executes the tuning run until every pair settles, then selects the
// best candidate and publishes the artifacts. On cancellation no further
// jobs are submitted; jobs already in flight are left to the remote
// service and the context error is returned.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	log.Printf("Starting tuning run %s: %d candidates x %d folds, budget %d submissions, %d in parallel",
		o.cfg.RunID, len(o.candidates), len(o.folds), o.cfg.MaxJobs, o.cfg.MaxParallelJobs)

	for _, cand := range o.candidates {
		for _, fold := range o.folds {
			o.queue.Enqueue(tracker.PairKey{Candidate: cand.Index, Fold: fold.Index}, time.Time{})
		}
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		o.submitReady(ctx)

		if o.tracker.Settled() {
			break
		}

		select {
		case <-ctx.Done():
			if abandoned := o.tracker.InFlightNames(); len(abandoned) > 0 {
				log.Printf("Run canceled with %d jobs in flight; leaving them to the remote service: %v",
					len(abandoned), abandoned)
			}
			return nil, fmt.Errorf("tuning run canceled: %w", ctx.Err())
		case <-ticker.C:
		}

		o.pollInFlight(ctx)
		o.requeueRetries()
	}

	return o.finish(ctx, started)
}

// submission is one reserved submission attempt.
type submission struct {
	key     tracker.PairKey
	attempt int
}

// submitReady submits every eligible pair the caps allow. Slots and budget
// are reserved up front in queue order, then the batch goes out in
// parallel.
func (o *Orchestrator) submitReady(ctx context.Context) {
	var batch []submission
	for ctx.Err() == nil {
		if !o.gov.TryAcquire() {
			break
		}
		key, ok := o.queue.PopReady(time.Now())
		if !ok {
			o.gov.Release()
			break
		}
		if !o.tracker.ReserveSubmission() {
			o.gov.Release()
			o.finalizeUnaffordable(key)
			break
		}
		job, _ := o.tracker.Job(key)
		batch = append(batch, submission{key: key, attempt: job.RetryCount})
	}
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range batch {
		wg.Add(1)
		go func(sub submission) {
			defer wg.Done()
			o.submitOne(ctx, sub)
		}(sub)
	}
	wg.Wait()
}

// submitOne starts the remote job for one reserved attempt. A submission
// failure is terminal for the pair and frees its slot.
func (o *Orchestrator) submitOne(ctx context.Context, sub submission) {
	cand := o.candidates[sub.key.Candidate]
	fold := o.folds[sub.key.Fold]

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	name, err := o.launcher.Submit(callCtx, cand, fold, sub.attempt)
	if err != nil {
		log.Printf("Failed to submit candidate %d fold %d: %v", sub.key.Candidate, sub.key.Fold, err)
		if markErr := o.tracker.MarkSubmissionFailed(sub.key, awsx.Reason(err)); markErr != nil {
			log.Printf("Failed to record submission failure: %v", markErr)
		}
		o.gov.Release()
		return
	}
	if err := o.tracker.MarkSubmitted(sub.key, name); err != nil {
		log.Printf("Failed to record submission of %s: %v", name, err)
	}
}

// finalizeUnaffordable handles pairs still queued once the submission
// budget is gone: retrying pairs become failed, untouched pairs stay
// pending and are reported as never submitted.
func (o *Orchestrator) finalizeUnaffordable(first tracker.PairKey) {
	log.Printf("Submission budget of %d jobs exhausted; no further submissions", o.cfg.MaxJobs)
	keys := append([]tracker.PairKey{first}, o.queue.Drain()...)
	for _, key := range keys {
		job, ok := o.tracker.Job(key)
		if !ok || job.State != models.JobStateRetrying {
			continue
		}
		if err := o.tracker.MarkBudgetExhausted(key); err != nil {
			log.Printf("Failed to finalize candidate %d fold %d: %v", key.Candidate, key.Fold, err)
		}
	}
}

// pollInFlight refreshes every in-flight job from the remote service
// through a bounded worker pool.
func (o *Orchestrator) pollInFlight(ctx context.Context) {
	names := o.tracker.InFlightNames()
	if len(names) == 0 {
		return
	}

	workers := o.cfg.MaxParallelJobs
	if workers > len(names) {
		workers = len(names)
	}

	tasks := make(chan string, len(names))
	for _, name := range names {
		tasks <- name
	}
	close(tasks)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range tasks {
				o.pollOne(ctx, name)
			}
		}()
	}
	wg.Wait()
}

// pollOne reconciles one job with the remote service. Describe errors are
// transient poll noise and leave the record untouched.
func (o *Orchestrator) pollOne(ctx context.Context, name string) {
	job, ok := o.tracker.JobByName(name)
	if !ok {
		return
	}

	// Local wall-clock enforcement, with headroom for the remote service's
	// own stopping grace period.
	if o.cfg.MaxRuntime > 0 && !job.SubmittedAt.IsZero() &&
		time.Since(job.SubmittedAt) > o.cfg.MaxRuntime+2*o.cfg.PollInterval {
		o.stopOverrun(ctx, name)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	status, err := o.svc.DescribeTrainingJob(callCtx, name)
	if err != nil {
		if awsx.IsThrottle(err) {
			log.Printf("Throttled describing job %s; retrying next poll", name)
		} else {
			log.Printf("Failed to describe job %s: %v", name, err)
		}
		return
	}

	switch status.State {
	case launcher.RemoteInProgress, launcher.RemoteStopping:
		if err := o.tracker.MarkRunning(name); err != nil {
			log.Printf("Failed to record running state of %s: %v", name, err)
		}
	case launcher.RemoteCompleted:
		if err := o.tracker.MarkCompleted(name, status.MetricValue); err != nil {
			log.Printf("Failed to record completion of %s: %v", name, err)
		}
	case launcher.RemoteFailed:
		if err := o.tracker.MarkFailed(name, status.FailureReason); err != nil {
			log.Printf("Failed to record failure of %s: %v", name, err)
		}
	case launcher.RemoteStopped:
		if err := o.tracker.MarkStopped(name, status.FailureReason); err != nil {
			log.Printf("Failed to record stop of %s: %v", name, err)
		}
	}
}

// stopOverrun stops a job past its wall-clock limit. The stop call is best
// effort; the record goes terminal either way so the run can settle.
func (o *Orchestrator) stopOverrun(ctx context.Context, name string) {
	log.Printf("Job %s exceeded the %s runtime limit; stopping it", name, o.cfg.MaxRuntime)

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	if err := o.svc.StopTrainingJob(callCtx, name); err != nil {
		log.Printf("Failed to stop job %s: %v", name, err)
	}

	if err := o.tracker.MarkStopped(name, "wall-clock budget exceeded"); err != nil {
		log.Printf("Failed to record stop of %s: %v", name, err)
	}
}

// requeueRetries puts retrying pairs back on the queue at their backoff
// time. The queue ignores pairs it already holds.
func (o *Orchestrator) requeueRetries() {
	for _, j := range o.tracker.Jobs() {
		if j.State == models.JobStateRetrying {
			o.queue.Enqueue(tracker.PairKey{Candidate: j.CandidateIndex, Fold: j.FoldIndex}, j.NextAttemptAt)
		}
	}
}

// finish selects the winning candidate and publishes both artifacts.
func (o *Orchestrator) finish(ctx context.Context, started time.Time) (*Result, error) {
	selection, err := o.aggregator.Select(o.candidates, o.tracker.Jobs())
	if err != nil {
		return nil, fmt.Errorf("select best candidate: %w", err)
	}

	report := models.EvaluationReport{MetricName: o.cfg.MetricName, Value: selection.Mean}
	info := models.JobInfo{
		BestCandidate:  selection.Candidate,
		BestJobID:      selection.BestJobName,
		PerFoldMetrics: selection.PerFoldMetrics,
	}
	if err := o.writer.Publish(ctx, o.cfg.RunID, report, info); err != nil {
		return nil, fmt.Errorf("publish artifacts: %w", err)
	}

	result := &Result{
		RunID:          o.cfg.RunID,
		Report:         report,
		Info:           info,
		Mean:           selection.Mean,
		SubmittedTotal: o.tracker.SubmittedTotal(),
		StateCounts:    o.tracker.StateCounts(),
		Elapsed:        time.Since(started),
	}
	log.Printf("Run %s finished in %s: best %s with mean %s %.6f",
		o.cfg.RunID, result.Elapsed.Round(time.Second), selection.Candidate.String(),
		o.cfg.MetricName, selection.Mean)
	return result, nil
}
