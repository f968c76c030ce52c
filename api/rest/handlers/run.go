package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"hpo-orchestrator/core/models"
	"hpo-orchestrator/core/monitoring"
	"hpo-orchestrator/core/tracker"
)

// RunHandler serves the run-level status view.
type RunHandler struct {
	tracker *tracker.Tracker
	meter   *monitoring.CostMeter
	run     models.RunRecord
}

// NewRunHandler creates a new run handler. The meter may be nil when no
// hourly rate is known.
func NewRunHandler(trk *tracker.Tracker, meter *monitoring.CostMeter, run models.RunRecord) *RunHandler {
	return &RunHandler{tracker: trk, meter: meter, run: run}
}

// GetRun handles GET /v1/run
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	jobs := h.tracker.Jobs()
	counts := h.tracker.StateCounts()
	submitted := h.tracker.SubmittedTotal()

	states := make(map[string]int, len(counts))
	for state, n := range counts {
		states[string(state)] = n
	}

	remaining := h.run.MaxJobs - submitted
	if remaining < 0 {
		remaining = 0
	}

	response := map[string]interface{}{
		"run_id":      h.run.ID,
		"task_name":   h.run.TaskName,
		"metric_name": h.run.MetricName,
		"folds":       h.run.Folds,
		"candidates":  h.run.Candidates,
		"budget": map[string]interface{}{
			"max_jobs":  h.run.MaxJobs,
			"submitted": submitted,
			"remaining": remaining,
		},
		"parallelism": map[string]interface{}{
			"max_parallel_jobs": h.run.MaxParallelJobs,
			"in_flight":         counts[models.JobStateSubmitted] + counts[models.JobStateRunning],
		},
		"states":          states,
		"elapsed_seconds": now.Sub(h.run.StartedAt).Seconds(),
	}

	if h.meter != nil {
		response["cost"] = map[string]interface{}{
			"estimated_usd": h.meter.TotalCost(jobs, now),
			"instance_type": h.run.InstanceType,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
