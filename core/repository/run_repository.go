package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"hpo-orchestrator/core/models"
)

// RunRepository handles database operations for tuning runs.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun inserts a new run row. A missing ID is generated and written
// back to the record.
func (r *RunRepository) CreateRun(run *models.RunRecord) error {
	query := `
		INSERT INTO tuning_runs (
			id, task_name, metric_name, folds, candidates,
			max_jobs, max_parallel_jobs, instance_type, instance_count,
			outcome, submitted_total, started_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	runID := uuid.New()
	if run.ID != "" {
		var err error
		runID, err = uuid.Parse(run.ID)
		if err != nil {
			return fmt.Errorf("invalid run ID: %w", err)
		}
	}
	run.ID = runID.String()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	outcome := run.Outcome
	if outcome == "" {
		outcome = "running"
	}

	_, err := r.db.Exec(query,
		runID, run.TaskName, run.MetricName, run.Folds, run.Candidates,
		run.MaxJobs, run.MaxParallelJobs, run.InstanceType, run.InstanceCount,
		outcome, run.SubmittedTotal, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (r *RunRepository) FinishRun(run *models.RunRecord) error {
	query := `
		UPDATE tuning_runs
		SET outcome = $1, best_job_name = $2, best_value = $3,
		    submitted_total = $4, finished_at = $5
		WHERE id = $6
	`

	finishedAt := time.Now()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}

	_, err := r.db.Exec(query,
		run.Outcome, run.BestJobName, run.BestValue,
		run.SubmittedTotal, finishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}
