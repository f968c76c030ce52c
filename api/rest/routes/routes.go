package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hpo-orchestrator/api/rest/handlers"
	"hpo-orchestrator/core/models"
	"hpo-orchestrator/core/monitoring"
	"hpo-orchestrator/core/tracker"
)

// SetupRoutes configures all status API routes.
func SetupRoutes(r *mux.Router, trk *tracker.Tracker, meter *monitoring.CostMeter, exporter *monitoring.MetricsExporter, run models.RunRecord) {
	jobHandler := handlers.NewJobHandler(trk)
	runHandler := handlers.NewRunHandler(trk, meter, run)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/run", runHandler.GetRun).Methods("GET")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{name}", jobHandler.GetJob).Methods("GET")

	r.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, exporter.Render(trk.Jobs(), trk.SubmittedTotal(), time.Now()))
	}).Methods("GET")
}
