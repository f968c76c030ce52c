package models

import "time"

// TrainingJob tracks one remote training job for a (candidate, fold) pair.
type TrainingJob struct {
	Name           string // remote training job name, empty until first submission
	CandidateIndex int
	FoldIndex      int
	State          JobState
	MetricValue    *float64 // final objective metric, set on completion
	RetryCount     int
	NextAttemptAt  time.Time // earliest resubmission time while retrying
	SubmittedAt    time.Time
	TerminalAt     time.Time
	FailureReason  string
	Events         []JobEvent
}

// Clone returns a deep copy safe to hand outside the tracker.
func (j *TrainingJob) Clone() TrainingJob {
	out := *j
	if j.MetricValue != nil {
		v := *j.MetricValue
		out.MetricValue = &v
	}
	out.Events = append([]JobEvent(nil), j.Events...)
	return out
}

// JobState represents the lifecycle state of a training job.
type JobState string

const (
	JobStatePending          JobState = "pending"
	JobStateSubmitted        JobState = "submitted"
	JobStateRunning          JobState = "running"
	JobStateRetrying         JobState = "retrying"
	JobStateCompleted        JobState = "completed"
	JobStateFailed           JobState = "failed"
	JobStateStopped          JobState = "stopped"
	JobStateSubmissionFailed JobState = "submission_failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateStopped, JobStateSubmissionFailed:
		return true
	}
	return false
}

// HoldsSlot reports whether a job in this state occupies a concurrency slot.
func (s JobState) HoldsSlot() bool {
	return s == JobStateSubmitted || s == JobStateRunning
}
