// Package artifacts renders and publishes the evaluation and job-info
// documents consumed by downstream pipeline steps.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"path"

	"hpo-orchestrator/core/models"
	"hpo-orchestrator/storage"
)

// Artifact object names under the output location.
const (
	EvaluationObject = "evaluation.json"
	JobInfoObject    = "jobinfo.json"
)

// relTolerance bounds how far the report value may drift from the mean of the
// per-fold metrics before the pair is rejected as inconsistent.
const relTolerance = 1e-9

// Writer publishes the artifact pair. Both payloads are rendered before
// anything is written, staged under a run-scoped prefix and then promoted,
// job info first and evaluation last: downstream readers gate on
// evaluation.json, so a visible evaluation implies a visible job info.
type Writer struct {
	store    storage.ObjectStore
	taskName string
}

// NewWriter creates a writer publishing into the given store.
func NewWriter(store storage.ObjectStore, taskName string) *Writer {
	return &Writer{store: store, taskName: taskName}
}

// Publish writes both artifacts for the run. It returns only after both
// objects are durably promoted; on any error nothing downstream-visible has
// changed except possibly the job-info object.
func (w *Writer) Publish(ctx context.Context, runID string, report models.EvaluationReport, info models.JobInfo) error {
	if err := checkConsistency(report, info); err != nil {
		return err
	}
	evalBody, err := w.RenderEvaluation(report)
	if err != nil {
		return fmt.Errorf("render %s: %w", EvaluationObject, err)
	}
	infoBody, err := RenderJobInfo(info)
	if err != nil {
		return fmt.Errorf("render %s: %w", JobInfoObject, err)
	}

	stagedInfo := path.Join(".staging", runID, JobInfoObject)
	stagedEval := path.Join(".staging", runID, EvaluationObject)
	if err := w.store.Put(ctx, stagedInfo, infoBody); err != nil {
		return fmt.Errorf("stage %s: %w", JobInfoObject, err)
	}
	if err := w.store.Put(ctx, stagedEval, evalBody); err != nil {
		return fmt.Errorf("stage %s: %w", EvaluationObject, err)
	}
	if err := w.store.Promote(ctx, stagedInfo, JobInfoObject); err != nil {
		return fmt.Errorf("publish %s: %w", JobInfoObject, err)
	}
	if err := w.store.Promote(ctx, stagedEval, EvaluationObject); err != nil {
		return fmt.Errorf("publish %s: %w", EvaluationObject, err)
	}
	for _, key := range []string{stagedInfo, stagedEval} {
		if err := w.store.Discard(ctx, key); err != nil {
			log.Printf("Failed to clean staged artifact %s: %v", key, err)
		}
	}
	log.Printf("Published %s and %s", EvaluationObject, JobInfoObject)
	return nil
}

// RenderEvaluation produces the evaluation document:
// {"<task>_metrics": {"<metric>": {"value": <float>}}}.
func (w *Writer) RenderEvaluation(report models.EvaluationReport) ([]byte, error) {
	if report.MetricName == "" {
		return nil, fmt.Errorf("evaluation report has no metric name")
	}
	doc := map[string]map[string]map[string]float64{
		w.taskName + "_metrics": {
			report.MetricName: {"value": report.Value},
		},
	}
	return marshalArtifact(doc)
}

// RenderJobInfo produces the job-info document with the winning candidate,
// its best job id and the per-fold metrics.
func RenderJobInfo(info models.JobInfo) ([]byte, error) {
	if len(info.PerFoldMetrics) == 0 {
		return nil, fmt.Errorf("job info has no per-fold metrics")
	}
	return marshalArtifact(info)
}

// marshalArtifact renders with a fixed layout so equal inputs produce
// byte-identical documents.
func marshalArtifact(v interface{}) ([]byte, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}

func checkConsistency(report models.EvaluationReport, info models.JobInfo) error {
	if len(info.PerFoldMetrics) == 0 {
		return fmt.Errorf("job info has no per-fold metrics")
	}
	sum := 0.0
	for _, m := range info.PerFoldMetrics {
		sum += m
	}
	mean := sum / float64(len(info.PerFoldMetrics))
	scale := math.Max(math.Abs(mean), math.Abs(report.Value))
	if diff := math.Abs(mean - report.Value); diff > relTolerance*scale {
		return fmt.Errorf("artifact disagreement: evaluation value %g vs per-fold mean %g", report.Value, mean)
	}
	return nil
}
