package repository

import (
	"log"

	"hpo-orchestrator/core/models"
)

// HistorySink persists run and job state changes to PostgreSQL as they
// happen. Database errors are logged and never interrupt a run.
type HistorySink struct {
	runs  *RunRepository
	jobs  *JobRepository
	runID string
}

// NewHistorySink creates the run row and returns a sink bound to it.
func NewHistorySink(db *DB, run *models.RunRecord) (*HistorySink, error) {
	sink := &HistorySink{
		runs: NewRunRepository(db),
		jobs: NewJobRepository(db),
	}
	if err := sink.runs.CreateRun(run); err != nil {
		return nil, err
	}
	sink.runID = run.ID
	return sink, nil
}

// JobTransition records a job state change. It satisfies the tracker
// observer contract.
func (s *HistorySink) JobTransition(job models.TrainingJob, event models.JobEvent) {
	if err := s.jobs.RecordTransition(s.runID, job, event); err != nil {
		log.Printf("Failed to record history for candidate %d fold %d: %v",
			job.CandidateIndex, job.FoldIndex, err)
	}
}

// RunFinished records the final outcome of the run.
func (s *HistorySink) RunFinished(run *models.RunRecord) {
	run.ID = s.runID
	if err := s.runs.FinishRun(run); err != nil {
		log.Printf("Failed to record run outcome: %v", err)
	}
}
