package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"hpo-orchestrator/core/models"
)

// JobRepository handles database operations for training jobs.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// RecordTransition upserts the job row for a (candidate, fold) pair and
// appends the state change to the event log, atomically.
func (r *JobRepository) RecordTransition(runID string, job models.TrainingJob, event models.JobEvent) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO tuning_jobs (
			id, run_id, name, candidate_idx, fold_idx, state,
			metric_value, retry_count, failure_reason,
			submitted_at, terminal_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW()
		)
		ON CONFLICT (run_id, candidate_idx, fold_idx) DO UPDATE SET
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			metric_value = EXCLUDED.metric_value,
			retry_count = EXCLUDED.retry_count,
			failure_reason = EXCLUDED.failure_reason,
			submitted_at = EXCLUDED.submitted_at,
			terminal_at = EXCLUDED.terminal_at,
			updated_at = NOW()
		RETURNING id
	`

	var jobID uuid.UUID
	err = tx.QueryRow(upsert,
		uuid.New(), runID, job.Name, job.CandidateIndex, job.FoldIndex, job.State,
		job.MetricValue, job.RetryCount, job.FailureReason,
		nullableTime(job.SubmittedAt), nullableTime(job.TerminalAt),
	).Scan(&jobID)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}

	insertEvent := `
		INSERT INTO tuning_job_events (job_id, at, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(insertEvent, jobID, event.At, event.From, event.To, event.Reason); err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}

	return tx.Commit()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
