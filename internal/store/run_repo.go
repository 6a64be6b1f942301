package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the runs status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Run models the runs table for API responses.
type Run struct {
	// ID is the primary key of runs, a time-ordered UUID.
	ID uuid.UUID
	// Title is the operator-facing label for the run.
	Title string
	// TotalIterations is the loop trip count the run was started with.
	TotalIterations int64
	// Workers is the worker count the run was started with.
	Workers int
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked completed/aborted.
	FinishedAt *time.Time
	// Completed is the most recently sampled iteration count.
	Completed int64
	// Fraction is the most recently sampled aggregate fraction.
	Fraction float64
	// Status is running/completed/aborted.
	Status RunStatus
}

// WorkerProgress models one worker row of a run.
type WorkerProgress struct {
	// RunID is the owning run.
	RunID uuid.UUID
	// WorkerID is the identifier carried on the wire.
	WorkerID uint32
	// Progress is the worker's sampled cumulative count.
	Progress int64
	// Fraction is Progress over the worker's share of the loop.
	Fraction float64
	// LastSeen is when the worker last reported.
	LastSeen time.Time
}

// RunRepository persists run lifecycle state and sampled progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the run header.
	UpsertRunStart(ctx context.Context, run Run) error
	// UpdateRunProgress applies the latest sampled aggregate counters.
	UpdateRunProgress(ctx context.Context, runID uuid.UUID, completed int64, fraction float64, at time.Time) error
	// UpsertWorkerProgress applies sampled per-worker rows for one run.
	UpsertWorkerProgress(ctx context.Context, runID uuid.UUID, workers []WorkerProgress) error
	// CompleteRun marks the run finished with the provided status.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunWorkers returns the sampled worker rows for one run.
	ListRunWorkers(ctx context.Context, runID uuid.UUID) ([]WorkerProgress, error)
}
