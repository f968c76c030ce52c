package search

import "fmt"

// InvalidRangeError reports a hyperparameter range that cannot be sampled.
type InvalidRangeError struct {
	Param  string
	Min    float64
	Max    float64
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range for %q [%g, %g]: %s", e.Param, e.Min, e.Max, e.Reason)
}

// InsufficientBudgetError reports a job budget too small for one full fold sweep.
type InsufficientBudgetError struct {
	MaxJobs int
	Folds   int
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("max jobs %d cannot cover one sweep of %d folds", e.MaxJobs, e.Folds)
}
