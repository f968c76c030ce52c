// Package aggregator folds per-job metrics into per-candidate scores and
// selects the winning candidate.
package aggregator

import (
	"fmt"
	"log"
	"math"

	"hpo-orchestrator/core/models"
)

// relTolerance is the relative bound under which two aggregates count as
// equal when breaking ties.
const relTolerance = 1e-9

// NoViableCandidateError reports that no candidate finished every fold.
type NoViableCandidateError struct {
	Candidates int
	Folds      int
}

func (e *NoViableCandidateError) Error() string {
	return fmt.Sprintf("no candidate out of %d completed all %d folds", e.Candidates, e.Folds)
}

// Selection is the chosen candidate with its supporting metrics.
type Selection struct {
	Candidate      models.HyperparameterCandidate
	PerFoldMetrics []float64
	Mean           float64
	BestJobName    string
}

// Aggregator scores candidates across a fixed number of folds.
type Aggregator struct {
	folds int
}

// New creates an aggregator for runs with the given fold count.
func New(folds int) *Aggregator {
	return &Aggregator{folds: folds}
}

// Select picks the winning candidate from the final job records. Only
// candidates with a completed job and metric for every fold are eligible;
// the highest mean wins and equal means resolve to the lowest candidate
// index. BestJobName is the winner's highest-metric fold job, lowest fold
// index on ties.
func (a *Aggregator) Select(candidates []models.HyperparameterCandidate, jobs []models.TrainingJob) (*Selection, error) {
	type foldMetric struct {
		value   float64
		jobName string
	}
	byCandidate := make(map[int]map[int]foldMetric)
	for _, j := range jobs {
		if j.State != models.JobStateCompleted || j.MetricValue == nil {
			continue
		}
		folds := byCandidate[j.CandidateIndex]
		if folds == nil {
			folds = make(map[int]foldMetric, a.folds)
			byCandidate[j.CandidateIndex] = folds
		}
		folds[j.FoldIndex] = foldMetric{value: *j.MetricValue, jobName: j.Name}
	}

	var best *Selection
	for _, cand := range candidates {
		folds := byCandidate[cand.Index]
		if len(folds) < a.folds {
			if len(folds) > 0 {
				log.Printf("Candidate %d covered %d of %d folds; excluded from selection", cand.Index, len(folds), a.folds)
			}
			continue
		}

		metrics := make([]float64, a.folds)
		sum := 0.0
		bestJob := ""
		bestValue := math.Inf(-1)
		eligible := true
		for f := 0; f < a.folds; f++ {
			fm, ok := folds[f]
			if !ok {
				eligible = false
				break
			}
			metrics[f] = fm.value
			sum += fm.value
			if fm.value > bestValue {
				bestValue = fm.value
				bestJob = fm.jobName
			}
		}
		if !eligible {
			continue
		}
		mean := sum / float64(a.folds)
		log.Printf("Scored %s: mean %.6f across %d folds", cand.String(), mean, a.folds)

		if best == nil || (mean > best.Mean && !nearlyEqual(mean, best.Mean)) {
			best = &Selection{
				Candidate:      cand,
				PerFoldMetrics: metrics,
				Mean:           mean,
				BestJobName:    bestJob,
			}
		}
	}

	if best == nil {
		return nil, &NoViableCandidateError{Candidates: len(candidates), Folds: a.folds}
	}
	return best, nil
}

func nearlyEqual(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= relTolerance*scale
}
