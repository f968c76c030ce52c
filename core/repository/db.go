package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps a PostgreSQL connection pool used by the history repositories.
type DB struct {
	*sql.DB
}

// NewDB opens a PostgreSQL connection pool and verifies connectivity.
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// EnsureSchema creates the history tables if they do not exist.
func (db *DB) EnsureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tuning_runs (
			id UUID PRIMARY KEY,
			task_name TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			folds INT NOT NULL,
			candidates INT NOT NULL,
			max_jobs INT NOT NULL,
			max_parallel_jobs INT NOT NULL,
			instance_type TEXT NOT NULL,
			instance_count INT NOT NULL,
			outcome TEXT NOT NULL DEFAULT 'running',
			best_job_name TEXT,
			best_value DOUBLE PRECISION,
			submitted_total INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS tuning_jobs (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES tuning_runs(id),
			name TEXT NOT NULL DEFAULT '',
			candidate_idx INT NOT NULL,
			fold_idx INT NOT NULL,
			state TEXT NOT NULL,
			metric_value DOUBLE PRECISION,
			retry_count INT NOT NULL DEFAULT 0,
			failure_reason TEXT NOT NULL DEFAULT '',
			submitted_at TIMESTAMPTZ,
			terminal_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (run_id, candidate_idx, fold_idx)
		)`,
		`CREATE TABLE IF NOT EXISTS tuning_job_events (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES tuning_jobs(id),
			at TIMESTAMPTZ NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tuning_jobs_run ON tuning_jobs(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tuning_job_events_job ON tuning_job_events(job_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
