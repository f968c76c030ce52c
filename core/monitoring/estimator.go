// Package monitoring provides cost estimation and run observability for
// tuning runs.
package monitoring

import (
	"context"
	"log"
	"time"
)

// RateSource provides hourly USD rates for training instance types.
type RateSource interface {
	OnDemandRate(ctx context.Context, instanceType string) (float64, error)
	SpotRate(ctx context.Context, instanceType string) (float64, error)
}

// CostEstimate is the preflight worst-case cost envelope for a run.
type CostEstimate struct {
	InstanceType    string
	InstanceCount   int
	MaxJobs         int
	MaxHoursPerJob  float64
	RatePerHour     float64
	SpotRatePerHour float64
	OnDemandTotal   float64
	SpotTotal       float64
	PriceSource     string // "pricing-api" or "fallback-table"
}

// Spot capacity reclaims interrupt roughly this fraction of job hours, and
// each restart costs about ten minutes.
const (
	spotInterruptionRate = 0.05
	restartOverheadHours = 10.0 / 60.0
)

// fallbackRates holds on-demand hourly rates for common training instance
// types, used when the pricing APIs are unreachable.
var fallbackRates = map[string]float64{
	"ml.m5.large":    0.115,
	"ml.m5.xlarge":   0.23,
	"ml.m5.2xlarge":  0.461,
	"ml.m5.4xlarge":  0.922,
	"ml.c5.xlarge":   0.204,
	"ml.c5.2xlarge":  0.408,
	"ml.c5.4xlarge":  0.816,
	"ml.g4dn.xlarge": 0.7364,
	"ml.g5.xlarge":   1.408,
	"ml.p3.2xlarge":  3.825,
	"ml.p3.8xlarge":  14.688,
}

// Estimator computes preflight cost envelopes from live rates where
// possible.
type Estimator struct {
	source RateSource
}

// NewEstimator creates an estimator backed by the given rate source.
func NewEstimator(source RateSource) *Estimator {
	return &Estimator{source: source}
}

// Estimate computes the worst-case run cost: every budgeted job running its
// full wall-clock allowance. Spot totals include the expected interruption
// restart overhead.
func (e *Estimator) Estimate(ctx context.Context, instanceType string, instanceCount, maxJobs int, maxRuntime time.Duration) CostEstimate {
	est := CostEstimate{
		InstanceType:   instanceType,
		InstanceCount:  instanceCount,
		MaxJobs:        maxJobs,
		MaxHoursPerJob: maxRuntime.Hours(),
		PriceSource:    "pricing-api",
	}

	rate, err := e.source.OnDemandRate(ctx, instanceType)
	if err != nil {
		log.Printf("Failed to fetch on-demand rate for %s: %v", instanceType, err)
		rate = fallbackRates[instanceType]
		est.PriceSource = "fallback-table"
	}
	est.RatePerHour = rate

	spotRate, err := e.source.SpotRate(ctx, instanceType)
	if err != nil {
		log.Printf("Failed to fetch spot rate for %s: %v", instanceType, err)
		// Spot typically clears at a deep discount to on-demand.
		spotRate = rate * 0.3
	}
	est.SpotRatePerHour = spotRate

	jobHours := est.MaxHoursPerJob * float64(maxJobs) * float64(instanceCount)
	est.OnDemandTotal = rate * jobHours

	expectedInterruptions := jobHours * spotInterruptionRate
	overhead := expectedInterruptions * restartOverheadHours
	est.SpotTotal = spotRate * (jobHours + overhead)

	return est
}

// Known reports whether the estimate carries a usable rate.
func (c CostEstimate) Known() bool {
	return c.RatePerHour > 0
}
