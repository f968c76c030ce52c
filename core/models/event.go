package models

import "time"

// JobEvent represents a state transition recorded for a training job.
type JobEvent struct {
	At     time.Time
	From   JobState
	To     JobState
	Reason string
}
