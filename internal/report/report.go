// Package report builds the final run report and archives it through a blob
// store when a run closes.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/hash/sha256"
	"github.com/JakeFAU/parmon/internal/render"
)

// BlobStore writes the serialized report and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher digests the report payload for content-addressed naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// WorkerReport is one worker's final accounting.
type WorkerReport struct {
	ID       uint32    `json:"id"`
	Progress uint64    `json:"progress"`
	Fraction float64   `json:"fraction"`
	LastSeen time.Time `json:"last_seen"`
}

// Report is the archived summary of one run.
type Report struct {
	RunID            string         `json:"run_id"`
	Title            string         `json:"title,omitempty"`
	TotalIterations  int64          `json:"total_iterations"`
	Completed        uint64         `json:"completed"`
	Fraction         float64        `json:"fraction"`
	Status           string         `json:"status"`
	ConnectedWorkers int            `json:"connected_workers"`
	Workers          []WorkerReport `json:"workers,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	ElapsedMs        int64          `json:"elapsed_ms"`
}

// Config controls an Archiver.
//   - Store: destination blob store; required.
//   - Hasher: payload digest (defaults to SHA-256).
//   - RunID, StartedAt: run identity stamped into the report.
//   - Prefix: object path prefix (default "reports").
//   - ContentType: stored content type (default "application/json").
//   - Logger: optional structured logger.
type Config struct {
	Store       BlobStore
	Hasher      Hasher
	RunID       uuid.UUID
	StartedAt   time.Time
	Prefix      string
	ContentType string
	Logger      *zap.Logger
}

// Archiver is a render sink that ignores intermediate snapshots and writes
// one content-addressed report object when the run closes.
type Archiver struct {
	store       BlobStore
	hasher      Hasher
	runID       uuid.UUID
	startedAt   time.Time
	prefix      string
	contentType string
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
	location  string
}

// NewArchiver validates the configuration and builds an Archiver.
func NewArchiver(cfg Config) (*Archiver, error) {
	if cfg.Store == nil {
		return nil, errors.New("report: blob store is required")
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = sha256.New()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "reports"
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:       cfg.Store,
		hasher:      hasher,
		runID:       cfg.RunID,
		startedAt:   cfg.StartedAt,
		prefix:      prefix,
		contentType: contentType,
		logger:      logger,
	}, nil
}

// Render is a no-op. The archive captures terminal state only.
func (a *Archiver) Render(context.Context, render.Snapshot) error {
	return nil
}

// Close builds the report from the final snapshot, digests it, and writes it
// to <prefix>/<run_id>/<digest>.json. Repeated calls return the first
// outcome without writing again.
func (a *Archiver) Close(ctx context.Context, final render.Snapshot) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.archive(ctx, final)
	})
	return a.closeErr
}

// Location returns the URI of the archived report, empty until Close
// succeeds.
func (a *Archiver) Location() string {
	return a.location
}

func (a *Archiver) archive(ctx context.Context, final render.Snapshot) error {
	rep := buildReport(a.runID, a.startedAt, final)
	payload, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	digest, err := a.hasher.Hash(payload)
	if err != nil {
		return fmt.Errorf("report: digest: %w", err)
	}

	path := fmt.Sprintf("%s/%s/%s.json", a.prefix, a.runID.String(), digest)
	uri, err := a.store.PutObject(ctx, path, a.contentType, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("report: put object: %w", err)
	}
	a.location = uri
	a.logger.Info("run report archived",
		zap.String("run_id", rep.RunID),
		zap.String("status", rep.Status),
		zap.String("uri", uri),
	)
	return nil
}

func buildReport(runID uuid.UUID, startedAt time.Time, final render.Snapshot) Report {
	status := "aborted"
	if final.Done {
		status = "completed"
	}
	rep := Report{
		RunID:            runID.String(),
		Title:            final.Title,
		TotalIterations:  final.TotalIterations,
		Completed:        final.Completed,
		Fraction:         final.Fraction,
		Status:           status,
		ConnectedWorkers: final.Connected,
		StartedAt:        startedAt,
		FinishedAt:       final.TakenAt,
		ElapsedMs:        final.Elapsed.Milliseconds(),
	}
	for _, w := range final.Workers {
		rep.Workers = append(rep.Workers, WorkerReport{
			ID:       w.ID,
			Progress: w.Progress,
			Fraction: w.Fraction,
			LastSeen: w.LastSeen,
		})
	}
	return rep
}
