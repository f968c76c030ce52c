package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hpo-orchestrator/core/models"
	"hpo-orchestrator/core/tracker"
)

// JobHandler serves training job status from the in-memory tracker.
type JobHandler struct {
	tracker *tracker.Tracker
}

// NewJobHandler creates a new job handler.
func NewJobHandler(trk *tracker.Tracker) *JobHandler {
	return &JobHandler{tracker: trk}
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	stateParam := r.URL.Query().Get("state")

	items := make([]map[string]interface{}, 0)
	for _, job := range h.tracker.Jobs() {
		if stateParam != "" && string(job.State) != stateParam {
			continue
		}
		items = append(items, jobSummary(job))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// GetJob handles GET /v1/jobs/{name}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	job, ok := h.tracker.JobByName(name)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	events := make([]map[string]interface{}, 0, len(job.Events))
	for _, ev := range job.Events {
		events = append(events, map[string]interface{}{
			"at":     ev.At,
			"from":   ev.From,
			"to":     ev.To,
			"reason": ev.Reason,
		})
	}

	response := jobSummary(job)
	response["failure_reason"] = job.FailureReason
	response["events"] = events
	response["timestamps"] = map[string]interface{}{
		"submitted_at": nullableTime(job.SubmittedAt),
		"terminal_at":  nullableTime(job.TerminalAt),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func jobSummary(job models.TrainingJob) map[string]interface{} {
	return map[string]interface{}{
		"name":         job.Name,
		"candidate":    job.CandidateIndex,
		"fold":         job.FoldIndex,
		"state":        job.State,
		"metric_value": job.MetricValue,
		"retry_count":  job.RetryCount,
	}
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
