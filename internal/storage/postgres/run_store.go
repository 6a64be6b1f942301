// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/parmon/internal/store"
)

// RunStoreConfig controls the Postgres connection pool used for run history.
type RunStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore implements the store.RunRepository interface using Postgres.
type RunStore struct {
	pool querier
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewRunStoreWithPool(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRunStart inserts or refreshes a run header.
func (s *RunStore) UpsertRunStart(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO runs (id, title, total_iterations, workers, started_at, completed, fraction, status)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, status = EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.Title,
		run.TotalIterations,
		run.Workers,
		run.StartedAt,
		store.RunRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// UpdateRunProgress applies the latest sampled aggregate counters.
func (s *RunStore) UpdateRunProgress(ctx context.Context, runID uuid.UUID, completed int64, fraction float64, at time.Time) error {
	query := `
		UPDATE runs
		SET completed = $1, fraction = $2, updated_at = $3
		WHERE id = $4;
	`
	_, err := s.pool.Exec(ctx, query, completed, fraction, at, runID)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// UpsertWorkerProgress applies sampled per-worker rows for one run.
func (s *RunStore) UpsertWorkerProgress(ctx context.Context, runID uuid.UUID, workers []store.WorkerProgress) error {
	query := `
		INSERT INTO run_workers (run_id, worker_id, progress, fraction, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, worker_id) DO UPDATE
		SET progress = EXCLUDED.progress,
			fraction = EXCLUDED.fraction,
			last_seen = EXCLUDED.last_seen;
	`
	for _, w := range workers {
		_, err := s.pool.Exec(ctx, query,
			runID,
			int64(w.WorkerID),
			w.Progress,
			w.Fraction,
			w.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert worker %d: %w", w.WorkerID, err)
		}
	}
	return nil
}

// CompleteRun marks a run finished with the provided status.
func (s *RunStore) CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus) error {
	query := `
		UPDATE runs
		SET finished_at = $1, status = $2
		WHERE id = $3;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, title, total_iterations, workers, started_at, finished_at, completed, fraction, status
		FROM runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Title,
		&run.TotalIterations,
		&run.Workers,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Completed,
		&run.Fraction,
		&run.Status,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, title, total_iterations, workers, started_at, finished_at, completed, fraction, status
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		err := rows.Scan(
			&run.ID,
			&run.Title,
			&run.TotalIterations,
			&run.Workers,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Completed,
			&run.Fraction,
			&run.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}
	return runs, nil
}

// ListRunWorkers retrieves the sampled worker rows for one run.
func (s *RunStore) ListRunWorkers(ctx context.Context, runID uuid.UUID) ([]store.WorkerProgress, error) {
	query := `
		SELECT run_id, worker_id, progress, fraction, last_seen
		FROM run_workers
		WHERE run_id = $1
		ORDER BY worker_id;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run workers: %w", err)
	}
	defer rows.Close()

	var workers []store.WorkerProgress
	for rows.Next() {
		var (
			w        store.WorkerProgress
			workerID int64
		)
		err := rows.Scan(&w.RunID, &workerID, &w.Progress, &w.Fraction, &w.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker row: %w", err)
		}
		w.WorkerID = uint32(workerID)
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate worker rows: %w", err)
	}
	return workers, nil
}
