package models

import "time"

// RunRecord summarizes a tuning run for history and status reporting.
type RunRecord struct {
	ID              string
	TaskName        string
	MetricName      string
	Folds           int
	Candidates      int
	MaxJobs         int
	MaxParallelJobs int
	InstanceType    string
	InstanceCount   int
	StartedAt       time.Time
	FinishedAt      *time.Time
	Outcome         string // "completed", "failed", "interrupted"
	BestJobName     *string
	BestValue       *float64
	SubmittedTotal  int
}

// Run outcomes persisted to history.
const (
	RunOutcomeCompleted   = "completed"
	RunOutcomeFailed      = "failed"
	RunOutcomeInterrupted = "interrupted"
)
