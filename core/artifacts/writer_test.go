package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpo-orchestrator/core/models"
	"hpo-orchestrator/storage"
)

func testReport() models.EvaluationReport {
	return models.EvaluationReport{MetricName: "validation:accuracy", Value: 0.85}
}

func testInfo() models.JobInfo {
	return models.JobInfo{
		BestCandidate: models.HyperparameterCandidate{
			Index: 1,
			Params: []models.ParamValue{
				{Name: "c", Value: 0.5},
				{Name: "gamma", Value: 0.0005},
			},
		},
		BestJobID:      "svm-tuning-c1-f2-a1-deadbeef",
		PerFoldMetrics: []float64{0.85, 0.83, 0.87},
	}
}

func TestRenderEvaluationShape(t *testing.T) {
	w := NewWriter(storage.NewLocalStore(t.TempDir()), "training")
	body, err := w.RenderEvaluation(testReport())
	require.NoError(t, err)

	expected := `{
  "training_metrics": {
    "validation:accuracy": {
      "value": 0.85
    }
  }
}
`
	assert.Equal(t, expected, string(body))
}

func TestRenderJobInfoShape(t *testing.T) {
	body, err := RenderJobInfo(testInfo())
	require.NoError(t, err)

	expected := `{
  "bestCandidate": {
    "c": 0.5,
    "gamma": 0.0005
  },
  "bestJobId": "svm-tuning-c1-f2-a1-deadbeef",
  "perFoldMetrics": [
    0.85,
    0.83,
    0.87
  ]
}
`
	assert.Equal(t, expected, string(body))
}

func TestRenderIsByteIdenticalAcrossRuns(t *testing.T) {
	w := NewWriter(storage.NewLocalStore(t.TempDir()), "training")
	a, err := w.RenderEvaluation(testReport())
	require.NoError(t, err)
	b, err := w.RenderEvaluation(testReport())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	ia, err := RenderJobInfo(testInfo())
	require.NoError(t, err)
	ib, err := RenderJobInfo(testInfo())
	require.NoError(t, err)
	assert.Equal(t, ia, ib)
}

func TestPublishWritesBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(storage.NewLocalStore(dir), "training")

	require.NoError(t, w.Publish(context.Background(), "run-1", testReport(), testInfo()))

	evalBody, err := os.ReadFile(filepath.Join(dir, "evaluation.json"))
	require.NoError(t, err)
	assert.Contains(t, string(evalBody), `"training_metrics"`)

	infoBody, err := os.ReadFile(filepath.Join(dir, "jobinfo.json"))
	require.NoError(t, err)
	assert.Contains(t, string(infoBody), `"bestJobId"`)

	_, err = os.Stat(filepath.Join(dir, ".staging", "run-1", "evaluation.json"))
	assert.True(t, os.IsNotExist(err), "staging cleaned up")
}

// opStore records operations and can fail a chosen one.
type opStore struct {
	inner  storage.ObjectStore
	ops    []string
	failOn string
}

func (s *opStore) Put(ctx context.Context, key string, body []byte) error {
	s.ops = append(s.ops, "put "+key)
	if s.failOn == "put "+key {
		return fmt.Errorf("injected put failure")
	}
	return s.inner.Put(ctx, key, body)
}

func (s *opStore) Promote(ctx context.Context, src, dst string) error {
	s.ops = append(s.ops, "promote "+dst)
	if s.failOn == "promote "+dst {
		return fmt.Errorf("injected promote failure")
	}
	return s.inner.Promote(ctx, src, dst)
}

func (s *opStore) Discard(ctx context.Context, key string) error {
	s.ops = append(s.ops, "discard "+key)
	return s.inner.Discard(ctx, key)
}

func TestPublishPromotesJobInfoBeforeEvaluation(t *testing.T) {
	st := &opStore{inner: storage.NewLocalStore(t.TempDir())}
	w := NewWriter(st, "training")

	require.NoError(t, w.Publish(context.Background(), "run-1", testReport(), testInfo()))

	var promotes []string
	for _, op := range st.ops {
		if op == "promote jobinfo.json" || op == "promote evaluation.json" {
			promotes = append(promotes, op)
		}
	}
	require.Equal(t, []string{"promote jobinfo.json", "promote evaluation.json"}, promotes)
}

func TestPublishStagingFailureLeavesNothingVisible(t *testing.T) {
	dir := t.TempDir()
	st := &opStore{inner: storage.NewLocalStore(dir), failOn: "put .staging/run-1/evaluation.json"}
	w := NewWriter(st, "training")

	err := w.Publish(context.Background(), "run-1", testReport(), testInfo())
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "evaluation.json"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "jobinfo.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPublishEvaluationPromoteFailureLeavesGateClosed(t *testing.T) {
	dir := t.TempDir()
	st := &opStore{inner: storage.NewLocalStore(dir), failOn: "promote evaluation.json"}
	w := NewWriter(st, "training")

	err := w.Publish(context.Background(), "run-1", testReport(), testInfo())
	require.Error(t, err)

	// Downstream gates key off evaluation.json, which must not exist.
	_, statErr := os.Stat(filepath.Join(dir, "evaluation.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPublishRejectsDisagreeingArtifacts(t *testing.T) {
	w := NewWriter(storage.NewLocalStore(t.TempDir()), "training")
	report := testReport()
	report.Value = 0.9

	err := w.Publish(context.Background(), "run-1", report, testInfo())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disagreement")
}

func TestPublishAcceptsValueWithinTolerance(t *testing.T) {
	w := NewWriter(storage.NewLocalStore(t.TempDir()), "training")
	info := testInfo()
	report := testReport()
	report.Value = (0.85 + 0.83 + 0.87) / 3

	assert.NoError(t, w.Publish(context.Background(), "run-1", report, info))
}
