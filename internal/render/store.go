package render

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/store"
)

// StoreSink persists sampled run progress via a store.RunRepository so runs
// survive the process and feed the history API. The run header is written
// once, lazily, so a repository outage at startup only delays persistence.
type StoreSink struct {
	repo   store.RunRepository
	run    store.Run
	logger *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewStoreSink constructs a StoreSink for the provided repository and run
// header. The header's ID, title, shape, and start time come from the
// monitor that owns the run.
func NewStoreSink(repo store.RunRepository, run store.Run, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	run.Status = store.RunRunning
	return &StoreSink{repo: repo, run: run, logger: logger}
}

// Render upserts the aggregate counters and per-worker rows. It respects ctx
// deadlines and returns repository errors wrapped.
func (s *StoreSink) Render(ctx context.Context, snap Snapshot) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.ensureStarted(ctx); err != nil {
		return err
	}
	return s.persist(ctx, snap)
}

// Close persists the final snapshot and marks the run completed, or aborted
// when iterations are still unaccounted for.
func (s *StoreSink) Close(ctx context.Context, final Snapshot) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.ensureStarted(ctx); err != nil {
		return err
	}
	if err := s.persist(ctx, final); err != nil {
		return err
	}
	status := store.RunAborted
	if final.Done {
		status = store.RunCompleted
	}
	if err := s.repo.CompleteRun(ctx, s.run.ID, final.TakenAt, status); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *StoreSink) ensureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.repo.UpsertRunStart(ctx, s.run); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	s.started = true
	return nil
}

func (s *StoreSink) persist(ctx context.Context, snap Snapshot) error {
	if err := s.repo.UpdateRunProgress(ctx, s.run.ID, int64(snap.Completed), snap.Fraction, snap.TakenAt); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	if len(snap.Workers) == 0 {
		return nil
	}
	rows := make([]store.WorkerProgress, 0, len(snap.Workers))
	for _, w := range snap.Workers {
		rows = append(rows, store.WorkerProgress{
			RunID:    s.run.ID,
			WorkerID: w.ID,
			Progress: int64(w.Progress),
			Fraction: w.Fraction,
			LastSeen: w.LastSeen,
		})
	}
	if err := s.repo.UpsertWorkerProgress(ctx, s.run.ID, rows); err != nil {
		return fmt.Errorf("upsert worker progress: %w", err)
	}
	return nil
}
