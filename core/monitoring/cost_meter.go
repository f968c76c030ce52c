package monitoring

import (
	"time"

	"hpo-orchestrator/core/models"
)

// CostMeter accrues estimated spend from job runtimes and a fixed hourly
// rate.
type CostMeter struct {
	ratePerHour   float64
	instanceCount int
}

// NewCostMeter creates a meter charging ratePerHour per instance.
func NewCostMeter(ratePerHour float64, instanceCount int) *CostMeter {
	return &CostMeter{ratePerHour: ratePerHour, instanceCount: instanceCount}
}

// JobCost estimates the spend for one job record as of now.
func (m *CostMeter) JobCost(job models.TrainingJob, now time.Time) float64 {
	if job.SubmittedAt.IsZero() {
		return 0
	}
	end := now
	switch {
	case !job.TerminalAt.IsZero():
		end = job.TerminalAt
	case job.State == models.JobStateRetrying && len(job.Events) > 0:
		// Between attempts nothing runs remotely; charge up to the
		// failure that triggered the retry.
		end = job.Events[len(job.Events)-1].At
	}
	if end.Before(job.SubmittedAt) {
		return 0
	}
	return end.Sub(job.SubmittedAt).Hours() * m.ratePerHour * float64(m.instanceCount)
}

// TotalCost estimates the spend across all job records as of now.
func (m *CostMeter) TotalCost(jobs []models.TrainingJob, now time.Time) float64 {
	total := 0.0
	for _, j := range jobs {
		total += m.JobCost(j, now)
	}
	return total
}
