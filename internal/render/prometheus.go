package render

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exports run progress via Prometheus. It owns all collectors
// for the aggregate fraction, per-worker fractions, and worker liveness.
type PrometheusSink struct {
	runFraction      prometheus.Gauge
	runCompleted     prometheus.Gauge
	runTotal         prometheus.Gauge
	runElapsed       prometheus.Gauge
	runDone          prometheus.Gauge
	connectedWorkers prometheus.Gauge
	workerFraction   *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
// A restarted monitor in the same process reuses the collectors already
// registered under these names instead of failing.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{}
	var err error
	if s.runFraction, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "monitor_run_fraction",
		Help: "Aggregate completed fraction of the current run.",
	}); err != nil {
		return nil, err
	}
	if s.runCompleted, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "monitor_run_completed_iterations",
		Help: "Iterations accounted for so far in the current run.",
	}); err != nil {
		return nil, err
	}
	if s.runTotal, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "monitor_run_total_iterations",
		Help: "Loop trip count of the current run.",
	}); err != nil {
		return nil, err
	}
	if s.runElapsed, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "monitor_run_elapsed_seconds",
		Help: "Wall time since the current run started.",
	}); err != nil {
		return nil, err
	}
	if s.runDone, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "monitor_run_done",
		Help: "Whether every iteration of the current run is accounted for.",
	}); err != nil {
		return nil, err
	}
	if s.connectedWorkers, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "monitor_connected_workers",
		Help: "Number of workers that have registered with the aggregator.",
	}); err != nil {
		return nil, err
	}
	if s.workerFraction, err = registerGaugeVec(reg, prometheus.GaugeOpts{
		Name: "monitor_worker_fraction",
		Help: "Completed fraction of each worker's share of the run.",
	}, []string{"worker_id"}); err != nil {
		return nil, err
	}
	return s, nil
}

func registerGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts) (prometheus.Gauge, error) {
	g := prometheus.NewGauge(opts)
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register %s: %w", opts.Name, err)
	}
	return g, nil
}

func registerGaugeVec(reg prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) (*prometheus.GaugeVec, error) {
	v := prometheus.NewGaugeVec(opts, labels)
	if err := reg.Register(v); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register %s: %w", opts.Name, err)
	}
	return v, nil
}

// Render updates the collectors from the snapshot. It is safe for concurrent
// use by multiple goroutines.
func (s *PrometheusSink) Render(_ context.Context, snap Snapshot) error {
	s.apply(snap)
	return nil
}

// Close publishes the final state of the run.
func (s *PrometheusSink) Close(_ context.Context, final Snapshot) error {
	s.apply(final)
	return nil
}

func (s *PrometheusSink) apply(snap Snapshot) {
	s.runFraction.Set(snap.Fraction)
	s.runCompleted.Set(float64(snap.Completed))
	s.runTotal.Set(float64(snap.TotalIterations))
	s.runElapsed.Set(snap.Elapsed.Seconds())
	s.connectedWorkers.Set(float64(snap.Connected))
	if snap.Done {
		s.runDone.Set(1)
	} else {
		s.runDone.Set(0)
	}
	for _, w := range snap.Workers {
		s.workerFraction.WithLabelValues(strconv.FormatUint(uint64(w.ID), 10)).Set(w.Fraction)
	}
}
