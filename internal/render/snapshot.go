package render

import (
	"context"
	"time"
)

// WorkerProgress is one worker's contribution within a Snapshot.
type WorkerProgress struct {
	// ID is the worker identifier carried on the wire.
	ID uint32
	// Progress is the worker's cumulative iteration count.
	Progress uint64
	// Fraction is Progress over the worker's share of the loop.
	Fraction float64
	// LastSeen is when the worker last reported.
	LastSeen time.Time
}

// Snapshot is a point-in-time view of one monitored run. Workers are sorted
// by ID.
type Snapshot struct {
	// Title is the operator-facing label for the run.
	Title string
	// TotalIterations is the loop trip count across all workers.
	TotalIterations int64
	// Completed is the summed worker progress, clamped to the total.
	Completed uint64
	// Fraction is Completed over TotalIterations, in [0, 1].
	Fraction float64
	// Connected is the number of workers that have registered.
	Connected int
	// Workers holds the per-worker breakdown.
	Workers []WorkerProgress
	// Elapsed is the wall time since the run started.
	Elapsed time.Duration
	// TakenAt is when the snapshot was taken.
	TakenAt time.Time
	// Done reports whether every iteration is accounted for.
	Done bool
}

// Sink renders successive snapshots of one run. Render is driven on a fixed
// period and must honor ctx deadlines; Close receives the final snapshot so
// sinks can publish a terminal state. Implementations must be safe for
// repeated calls.
type Sink interface {
	Render(ctx context.Context, snap Snapshot) error
	Close(ctx context.Context, final Snapshot) error
}
