// Package loop describes the shape of a monitored data-parallel loop and the
// sampling policy that keeps progress-report volume bounded as the loop grows.
package loop

import "fmt"

const (
	// samplingThreshold is the per-unit iteration count above which reports
	// are sampled instead of emitted on every increment.
	samplingThreshold = 200
	// reportTarget is the approximate number of Update datagrams one
	// reporting unit emits once sampling kicks in.
	reportTarget = 100
)

// Spec captures one monitored loop. It is computed once when a monitor is
// constructed and immutable afterwards; all workers share the same values.
type Spec struct {
	// TotalIterations is the loop trip count summed across all workers.
	TotalIterations int64
	// Workers is the number of independent reporting workers.
	Workers int
}

// Validate enforces the construction invariants for a Spec.
func (s Spec) Validate() error {
	if s.TotalIterations < 1 {
		return fmt.Errorf("total iterations must be at least 1, got %d", s.TotalIterations)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	return nil
}

// StepSize returns the number of local iterations a reporting unit
// accumulates before emitting one progress report. denominator is 1 for a
// single global counter or the worker count when each worker reports its own
// share. Units small enough to report cheaply report every iteration; beyond
// samplingThreshold iterations per unit the step grows linearly so each unit
// emits on the order of reportTarget updates no matter how large the loop
// is. The result is always >= 1.
func StepSize(totalIterations, denominator int64) int64 {
	if denominator < 1 {
		denominator = 1
	}
	perUnit := totalIterations / denominator
	if perUnit > samplingThreshold {
		return perUnit / reportTarget
	}
	return 1
}

// Step is the per-worker sampling step for this spec.
func (s Spec) Step() int64 {
	return StepSize(s.TotalIterations, int64(s.Workers))
}
