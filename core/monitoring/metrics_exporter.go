package monitoring

import (
	"fmt"
	"strings"
	"time"

	"hpo-orchestrator/core/models"
)

// MetricsExporter renders run counters in Prometheus text format for the
// status endpoint.
type MetricsExporter struct {
	meter   *CostMeter
	started time.Time
}

// NewMetricsExporter creates an exporter for a run that started now.
func NewMetricsExporter(meter *CostMeter, started time.Time) *MetricsExporter {
	return &MetricsExporter{meter: meter, started: started}
}

// Render produces the metrics page from a snapshot of the job records.
func (me *MetricsExporter) Render(jobs []models.TrainingJob, submittedTotal int, now time.Time) string {
	counts := make(map[models.JobState]int)
	for _, j := range jobs {
		counts[j.State]++
	}

	var b strings.Builder
	b.WriteString("# HELP hpo_jobs_total Total number of (candidate, fold) pair jobs\n")
	b.WriteString("# TYPE hpo_jobs_total gauge\n")
	fmt.Fprintf(&b, "hpo_jobs_total %d\n", len(jobs))

	b.WriteString("# HELP hpo_jobs Number of pair jobs per state\n")
	b.WriteString("# TYPE hpo_jobs gauge\n")
	for _, state := range []models.JobState{
		models.JobStatePending, models.JobStateSubmitted, models.JobStateRunning,
		models.JobStateRetrying, models.JobStateCompleted, models.JobStateFailed,
		models.JobStateStopped, models.JobStateSubmissionFailed,
	} {
		fmt.Fprintf(&b, "hpo_jobs{state=%q} %d\n", state, counts[state])
	}

	b.WriteString("# HELP hpo_submissions_total Remote submission attempts so far\n")
	b.WriteString("# TYPE hpo_submissions_total counter\n")
	fmt.Fprintf(&b, "hpo_submissions_total %d\n", submittedTotal)

	if me.meter != nil {
		b.WriteString("# HELP hpo_estimated_cost_usd Estimated spend so far\n")
		b.WriteString("# TYPE hpo_estimated_cost_usd gauge\n")
		fmt.Fprintf(&b, "hpo_estimated_cost_usd %.4f\n", me.meter.TotalCost(jobs, now))
	}

	b.WriteString("# HELP hpo_run_duration_seconds Run wall-clock duration\n")
	b.WriteString("# TYPE hpo_run_duration_seconds gauge\n")
	fmt.Fprintf(&b, "hpo_run_duration_seconds %.0f\n", now.Sub(me.started).Seconds())

	return b.String()
}
