package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/parmon/internal/store"
)

// RunStore is an in-memory RunRepository for development and tests. It
// mirrors the Postgres semantics: updates for unknown runs are silent
// no-ops, lookups return store.ErrNotFound.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]store.Run
	workers map[uuid.UUID]map[uint32]store.WorkerProgress
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[uuid.UUID]store.Run),
		workers: make(map[uuid.UUID]map[uint32]store.WorkerProgress),
	}
}

// UpsertRunStart inserts the run header, or refreshes title and status for
// a known run while keeping its sampled counters.
func (s *RunStore) UpsertRunStart(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		run.Completed = 0
		run.Fraction = 0
		run.Status = store.RunRunning
		s.runs[run.ID] = run
		return nil
	}
	existing.Title = run.Title
	existing.Status = store.RunRunning
	s.runs[run.ID] = existing
	return nil
}

// UpdateRunProgress applies the latest sampled aggregate counters.
func (s *RunStore) UpdateRunProgress(_ context.Context, runID uuid.UUID, completed int64, fraction float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	run.Completed = completed
	run.Fraction = fraction
	s.runs[runID] = run
	return nil
}

// UpsertWorkerProgress applies sampled per-worker rows for one run.
func (s *RunStore) UpsertWorkerProgress(_ context.Context, runID uuid.UUID, workers []store.WorkerProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.workers[runID]
	if !ok {
		rows = make(map[uint32]store.WorkerProgress)
		s.workers[runID] = rows
	}
	for _, w := range workers {
		w.RunID = runID
		rows[w.WorkerID] = w
	}
	return nil
}

// CompleteRun marks the run finished with the provided status.
func (s *RunStore) CompleteRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	ts := finishedAt
	run.FinishedAt = &ts
	run.Status = status
	s.runs[runID] = run
	return nil
}

// GetRun loads a single run or returns store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, filtered by optional status, sliced
// by limit and offset.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID.String() > runs[j].ID.String()
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if offset >= len(runs) {
		return []store.Run{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	out := make([]store.Run, len(runs))
	copy(out, runs)
	return out, nil
}

// ListRunWorkers returns the sampled worker rows for one run, ordered by
// worker ID.
func (s *RunStore) ListRunWorkers(_ context.Context, runID uuid.UUID) ([]store.WorkerProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.workers[runID]
	out := make([]store.WorkerProgress, 0, len(rows))
	for _, w := range rows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}
