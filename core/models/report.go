package models

// EvaluationReport is the aggregate quality metric for the winning candidate.
type EvaluationReport struct {
	MetricName string
	Value      float64
}

// JobInfo records the winning candidate for the downstream training step.
type JobInfo struct {
	BestCandidate  HyperparameterCandidate `json:"bestCandidate"`
	BestJobID      string                  `json:"bestJobId"`
	PerFoldMetrics []float64               `json:"perFoldMetrics"`
}
