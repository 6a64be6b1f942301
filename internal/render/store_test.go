package render

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parmon/internal/store"
)

// TestStoreSinkPersistsSnapshots ensures the run header is written once and
// every snapshot lands as counters plus worker rows.
func TestStoreSinkPersistsSnapshots(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	run := store.Run{
		ID:              uuid.New(),
		Title:           "ingest",
		TotalIterations: 1000,
		Workers:         2,
		StartedAt:       time.Now().UTC(),
	}
	sink := NewStoreSink(repo, run, nil)

	at := time.Now().UTC()
	snap := Snapshot{
		TotalIterations: 1000,
		Completed:       375,
		Fraction:        0.375,
		Connected:       2,
		TakenAt:         at,
		Workers: []WorkerProgress{
			{ID: 1, Progress: 250, Fraction: 1.0, LastSeen: at},
			{ID: 2, Progress: 125, Fraction: 0.5, LastSeen: at},
		},
	}
	require.NoError(t, sink.Render(context.Background(), snap))
	require.NoError(t, sink.Render(context.Background(), snap))

	require.Len(t, repo.starts, 1)
	require.Equal(t, run.ID, repo.starts[0].ID)
	require.Equal(t, store.RunRunning, repo.starts[0].Status)
	require.Len(t, repo.progress, 2)
	require.Equal(t, int64(375), repo.progress[0].completed)
	require.Len(t, repo.workerRows, 2)
	require.Len(t, repo.workerRows[0], 2)
	require.Equal(t, uint32(1), repo.workerRows[0][0].WorkerID)
}

// TestStoreSinkCloseCompletesRun maps the final snapshot onto the run
// status.
func TestStoreSinkCloseCompletesRun(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		done bool
		want store.RunStatus
	}{
		{name: "done runs complete", done: true, want: store.RunCompleted},
		{name: "interrupted runs abort", done: false, want: store.RunAborted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := &fakeRunRepo{}
			sink := NewStoreSink(repo, store.Run{ID: uuid.New()}, nil)

			final := Snapshot{TotalIterations: 10, Completed: 10, Fraction: 1.0, Done: tc.done, TakenAt: time.Now()}
			require.NoError(t, sink.Close(context.Background(), final))

			require.Len(t, repo.starts, 1) // header written even without renders
			require.Len(t, repo.completes, 1)
			require.Equal(t, tc.want, repo.completes[0].status)
		})
	}
}

// TestStoreSinkRetriesHeaderAfterFailure keeps the header pending until the
// repository accepts it.
func TestStoreSinkRetriesHeaderAfterFailure(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, store.Run{ID: uuid.New()}, nil)

	snap := Snapshot{TotalIterations: 10, Completed: 5, Fraction: 0.5, TakenAt: time.Now()}
	require.Error(t, sink.Render(context.Background(), snap))

	repo.fail = false
	require.NoError(t, sink.Render(context.Background(), snap))
	require.Len(t, repo.starts, 1)
	require.Len(t, repo.progress, 1)
}

// TestStoreSinkNilRepo confirms a missing repository disables persistence
// without errors.
func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, store.Run{}, nil)
	require.NoError(t, sink.Render(context.Background(), Snapshot{}))
	require.NoError(t, sink.Close(context.Background(), Snapshot{}))
}

type fakeRunRepo struct {
	fail       bool
	starts     []store.Run
	progress   []progressCall
	workerRows [][]store.WorkerProgress
	completes  []completeCall
}

type progressCall struct {
	runID     uuid.UUID
	completed int64
	fraction  float64
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, run store.Run) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeRunRepo) UpdateRunProgress(_ context.Context, runID uuid.UUID, completed int64, fraction float64, _ time.Time) error {
	if f.fail {
		return assertErr("progress")
	}
	f.progress = append(f.progress, progressCall{runID: runID, completed: completed, fraction: fraction})
	return nil
}

func (f *fakeRunRepo) UpsertWorkerProgress(_ context.Context, _ uuid.UUID, workers []store.WorkerProgress) error {
	if f.fail {
		return assertErr("workers")
	}
	rows := append([]store.WorkerProgress(nil), workers...)
	f.workerRows = append(f.workerRows, rows)
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, runID uuid.UUID, _ time.Time, status store.RunStatus) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, assertErr("read")
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, assertErr("list")
}

func (f *fakeRunRepo) ListRunWorkers(context.Context, uuid.UUID) ([]store.WorkerProgress, error) {
	return nil, assertErr("workers")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
