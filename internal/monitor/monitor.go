package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/aggregator"
	"github.com/JakeFAU/parmon/internal/clock/system"
	iduuid "github.com/JakeFAU/parmon/internal/id/uuid"
	"github.com/JakeFAU/parmon/internal/loop"
	"github.com/JakeFAU/parmon/internal/metrics"
	"github.com/JakeFAU/parmon/internal/render"
	"github.com/JakeFAU/parmon/internal/reporter"
)

// Role distinguishes the two halves of a monitored run.
type Role string

const (
	// RoleAggregator owns the UDP endpoint, the progress table, and the
	// render loop.
	RoleAggregator Role = "aggregator"
	// RoleWorker counts iterations and reports them to an aggregator.
	RoleWorker Role = "worker"
)

// Run terminal states as observed at close time.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// ErrWorkerRole is returned by aggregator-only operations when the monitor
// was built with NewWorker.
var ErrWorkerRole = errors.New("monitor: operation requires the aggregator role")

const (
	defaultUpdatePeriod = time.Second
	defaultSinkTimeout  = 5 * time.Second
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Publisher delivers the completion event of a run to interested parties.
// Publishing is best effort; failures are logged and never fail Close.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CompletionEvent is the payload published when a run finishes.
type CompletionEvent struct {
	RunID            string    `json:"run_id"`
	Title            string    `json:"title,omitempty"`
	TotalIterations  int64     `json:"total_iterations"`
	Completed        uint64    `json:"completed"`
	Fraction         float64   `json:"fraction"`
	ConnectedWorkers int       `json:"connected_workers"`
	Status           string    `json:"status"`
	ElapsedMs        int64     `json:"elapsed_ms"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Config controls an aggregator-role Monitor.
//   - Spec: the loop being tracked; must validate.
//   - Title: operator-facing label carried on every snapshot.
//   - UpdatePeriod: render cadence (default 1s).
//   - ShowWorkerProgress: include the per-worker breakdown in snapshots.
//   - ListenAddr: UDP endpoint (default "127.0.0.1:0" for an ephemeral port).
//   - SinkTimeout: per-sink deadline for Render and Close calls (default 5s).
//   - RunID: stable identifier for persistence; generated when zero.
//   - BaseContext: parent for per-sink contexts (default context.Background).
//   - Clock, Logger: optional; default to the system clock and a nop logger.
//   - Publisher, Topic: optional completion event delivery.
type Config struct {
	Spec               loop.Spec
	Title              string
	UpdatePeriod       time.Duration
	ShowWorkerProgress bool
	ListenAddr         string
	SinkTimeout        time.Duration
	RunID              uuid.UUID
	BaseContext        context.Context
	Clock              Clock
	Logger             *zap.Logger
	Publisher          Publisher
	Topic              string
}

// Monitor tracks one distributed loop. The aggregator role binds the UDP
// endpoint, renders snapshots on a fixed period, and distributes a
// Descriptor for workers to dial; the worker role wraps a Reporter and
// counts iterations. A Monitor only ever plays the role it was built with.
type Monitor struct {
	role Role

	cfg       Config
	runID     uuid.UUID
	desc      Descriptor
	agg       *aggregator.Server
	sinks     []render.Sink
	clock     Clock
	logger    *zap.Logger
	startedAt time.Time

	stopCh     chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
	finishOnce sync.Once
	closeErr   error

	rep *reporter.Reporter
}

// New starts an aggregator-role Monitor: it binds the UDP endpoint, spawns
// the render loop, and is immediately ready to hand out its Descriptor.
// Sinks are rendered in order on every tick; a nil sink is skipped.
func New(cfg Config, sinks ...render.Sink) (*Monitor, error) {
	if err := cfg.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	if cfg.UpdatePeriod <= 0 {
		cfg.UpdatePeriod = defaultUpdatePeriod
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := cfg.RunID
	if runID == uuid.Nil {
		var err error
		runID, err = iduuid.New().NewRawID()
		if err != nil {
			return nil, fmt.Errorf("monitor: assign run id: %w", err)
		}
	}

	agg, err := aggregator.New(aggregator.Config{
		Addr:            cfg.ListenAddr,
		TotalIterations: cfg.Spec.TotalIterations,
		Clock:           cfg.Clock,
		Logger:          logger.Named("aggregator"),
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: open aggregator endpoint: %w", err)
	}

	m := &Monitor{
		role:      RoleAggregator,
		cfg:       cfg,
		runID:     runID,
		agg:       agg,
		sinks:     sinks,
		clock:     cfg.Clock,
		logger:    logger,
		startedAt: cfg.Clock.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	m.desc = Descriptor{
		Addr:            agg.Addr(),
		StepSize:        cfg.Spec.Step(),
		TotalIterations: cfg.Spec.TotalIterations,
	}

	m.logger.Info("monitor started",
		zap.String("run_id", runID.String()),
		zap.String("addr", m.desc.Addr),
		zap.Int64("total_iterations", cfg.Spec.TotalIterations),
		zap.Int64("step_size", m.desc.StepSize),
		zap.Duration("update_period", cfg.UpdatePeriod),
	)

	go m.run()
	return m, nil
}

// NewWorker starts a worker-role Monitor from a Descriptor handed out by the
// aggregator. It registers the worker immediately; every report after that
// is fire and forget.
func NewWorker(desc Descriptor, workerID uint32, logger *zap.Logger) (*Monitor, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	rep, err := reporter.New(reporter.Config{
		WorkerID: workerID,
		Addr:     desc.Addr,
		StepSize: desc.StepSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: connect reporter: %w", err)
	}
	return &Monitor{role: RoleWorker, desc: desc, rep: rep}, nil
}

// Role reports which half of the protocol this Monitor plays.
func (m *Monitor) Role() Role {
	return m.role
}

// RunID returns the run identifier. Zero for the worker role.
func (m *Monitor) RunID() uuid.UUID {
	return m.runID
}

// StartedAt returns when the aggregator began tracking the run. Zero for the
// worker role.
func (m *Monitor) StartedAt() time.Time {
	return m.startedAt
}

// Addr returns the bound UDP endpoint, or the dialed one for workers.
func (m *Monitor) Addr() string {
	if m.role == RoleWorker {
		return m.desc.Addr
	}
	return m.agg.Addr()
}

// Descriptor returns the connection details workers need. It fails for the
// worker role: a worker cannot mint descriptors.
func (m *Monitor) Descriptor() (Descriptor, error) {
	if m.role != RoleAggregator {
		return Descriptor{}, ErrWorkerRole
	}
	return m.desc, nil
}

// Snapshot returns the current view of the run.
func (m *Monitor) Snapshot() (render.Snapshot, error) {
	if m.role != RoleAggregator {
		return render.Snapshot{}, ErrWorkerRole
	}
	return m.sample(), nil
}

// Increment records one finished iteration. Only the worker role counts;
// calling it on an aggregator is a harmless no-op so loop bodies need not
// care which role they were handed.
func (m *Monitor) Increment() {
	if m.role == RoleWorker {
		m.rep.Increment()
	}
}

// Add records n finished iterations at once.
func (m *Monitor) Add(n int64) {
	if m.role == RoleWorker {
		m.rep.Add(n)
	}
}

// Count returns the local iteration count. Zero for the aggregator role.
func (m *Monitor) Count() int64 {
	if m.role == RoleWorker {
		return m.rep.Count()
	}
	return 0
}

// Close shuts the monitor down. For workers it flushes the final count and
// closes the socket. For aggregators it stops the render loop, closes the
// UDP endpoint, pushes the final snapshot to every sink, and publishes the
// completion event. Safe to call more than once.
func (m *Monitor) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if m.role == RoleWorker {
		return m.rep.Close()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.stopOnce.Do(func() { close(m.stopCh) })
	select {
	case <-m.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("monitor: close wait: %w", ctx.Err())
	}

	m.finishOnce.Do(func() { m.finish(ctx) })
	return m.closeErr
}

// run is the render loop. It wakes on the configured period regardless of
// datagram arrival, so a stalled worker still updates the elapsed clock.
// Once every iteration is accounted for it renders the terminal state a
// final time and retires.
func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.UpdatePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := m.sample()
			m.renderAll(snap)
			if snap.Done {
				return
			}
		case <-m.stopCh:
			return
		}
	}
}

// sample converts the aggregator table into a render.Snapshot.
func (m *Monitor) sample() render.Snapshot {
	agg := m.agg.Snapshot()
	snap := render.Snapshot{
		Title:           m.cfg.Title,
		TotalIterations: agg.TotalIterations,
		Completed:       agg.Completed,
		Fraction:        agg.Fraction,
		Connected:       agg.Connected,
		Elapsed:         agg.TakenAt.Sub(m.startedAt),
		TakenAt:         agg.TakenAt,
		Done:            agg.TotalIterations > 0 && agg.Completed >= uint64(agg.TotalIterations),
	}
	if m.cfg.ShowWorkerProgress {
		snap.Workers = make([]render.WorkerProgress, 0, len(agg.Workers))
		for _, w := range agg.Workers {
			snap.Workers = append(snap.Workers, render.WorkerProgress{
				ID:       w.ID,
				Progress: w.Progress,
				Fraction: w.Fraction,
				LastSeen: w.LastSeen,
			})
		}
	}
	return snap
}

func (m *Monitor) renderAll(snap render.Snapshot) {
	for _, sink := range m.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(m.cfg.BaseContext, m.cfg.SinkTimeout)
		if err := sink.Render(ctx, snap); err != nil {
			m.logger.Warn("render sink failed", zap.Error(err))
		}
		cancel()
	}
}

// finish runs exactly once: it closes the UDP endpoint, takes the final
// sample, hands it to every sink's Close, and publishes the completion
// event. Sink and publish failures are logged, not returned; the only error
// kept is the endpoint teardown.
func (m *Monitor) finish(ctx context.Context) {
	if err := m.agg.Close(ctx); err != nil {
		m.closeErr = err
	}

	final := m.sample()
	status := StatusAborted
	if final.Done {
		status = StatusCompleted
	}

	for _, sink := range m.sinks {
		if sink == nil {
			continue
		}
		sctx, cancel := context.WithTimeout(m.cfg.BaseContext, m.cfg.SinkTimeout)
		if err := sink.Close(sctx, final); err != nil {
			m.logger.Warn("render sink close failed", zap.Error(err))
		}
		cancel()
	}

	metrics.ObserveRun(status)
	m.publishCompletion(final, status)

	m.logger.Info("run finished",
		zap.String("run_id", m.runID.String()),
		zap.String("status", status),
		zap.Uint64("completed", final.Completed),
		zap.Float64("fraction", final.Fraction),
		zap.Int("connected_workers", final.Connected),
		zap.Duration("elapsed", final.Elapsed),
	)
}

func (m *Monitor) publishCompletion(final render.Snapshot, status string) {
	if m.cfg.Publisher == nil || m.cfg.Topic == "" {
		return
	}
	evt := CompletionEvent{
		RunID:            m.runID.String(),
		Title:            final.Title,
		TotalIterations:  final.TotalIterations,
		Completed:        final.Completed,
		Fraction:         final.Fraction,
		ConnectedWorkers: final.Connected,
		Status:           status,
		ElapsedMs:        final.Elapsed.Milliseconds(),
		FinishedAt:       final.TakenAt,
	}
	ctx, cancel := context.WithTimeout(m.cfg.BaseContext, m.cfg.SinkTimeout)
	defer cancel()
	id, err := m.cfg.Publisher.Publish(ctx, m.cfg.Topic, evt)
	if err != nil {
		m.logger.Warn("completion event publish failed", zap.Error(err))
		return
	}
	m.logger.Debug("completion event published", zap.String("message_id", id))
}
