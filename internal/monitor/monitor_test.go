package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/loop"
	"github.com/JakeFAU/parmon/internal/publisher/memory"
	"github.com/JakeFAU/parmon/internal/render"
)

// recordingSink captures every snapshot it is handed.
type recordingSink struct {
	mu      sync.Mutex
	renders []render.Snapshot
	finals  []render.Snapshot
}

func (s *recordingSink) Render(_ context.Context, snap render.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = append(s.renders, snap)
	return nil
}

func (s *recordingSink) Close(_ context.Context, final render.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, final)
	return nil
}

func (s *recordingSink) lastRender() (render.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.renders) == 0 {
		return render.Snapshot{}, false
	}
	return s.renders[len(s.renders)-1], true
}

func (s *recordingSink) finalSnapshots() []render.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]render.Snapshot, len(s.finals))
	copy(out, s.finals)
	return out
}

// TestMonitorDescriptor checks that the descriptor carries everything a
// worker needs and survives an encode/decode round trip.
func TestMonitorDescriptor(t *testing.T) {
	t.Parallel()

	m, err := New(Config{
		Spec:   loop.Spec{TotalIterations: 1_000_000, Workers: 4},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	defer m.Close(context.Background())

	require.Equal(t, RoleAggregator, m.Role())
	require.NotEqual(t, uuid.Nil, m.RunID())
	require.False(t, m.StartedAt().IsZero())

	desc, err := m.Descriptor()
	require.NoError(t, err)
	require.Equal(t, m.Addr(), desc.Addr)
	require.Equal(t, int64(2500), desc.StepSize)
	require.Equal(t, int64(1_000_000), desc.TotalIterations)

	data, err := desc.Encode()
	require.NoError(t, err)
	decoded, err := DecodeDescriptor(data)
	require.NoError(t, err)
	require.Equal(t, desc, decoded)
}

// TestMonitorInvalidSpec rejects loops that cannot be tracked.
func TestMonitorInvalidSpec(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Spec: loop.Spec{TotalIterations: 0, Workers: 2}})
	require.Error(t, err)

	_, err = New(Config{Spec: loop.Spec{TotalIterations: 100, Workers: 0}})
	require.Error(t, err)
}

// TestMonitorEndToEnd drives two workers through a full loop and checks the
// rendered snapshots, the final sink state, and the completion event.
func TestMonitorEndToEnd(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	pub := memory.New()
	m, err := New(Config{
		Spec:               loop.Spec{TotalIterations: 40, Workers: 2},
		Title:              "backfill",
		UpdatePeriod:       10 * time.Millisecond,
		ShowWorkerProgress: true,
		Publisher:          pub,
		Topic:              "run-events",
		Logger:             zap.NewNop(),
	}, sink)
	require.NoError(t, err)

	desc, err := m.Descriptor()
	require.NoError(t, err)

	for id := uint32(1); id <= 2; id++ {
		w, err := NewWorker(desc, id, zap.NewNop())
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			w.Increment()
		}
		require.Equal(t, int64(20), w.Count())
		require.NoError(t, w.Close(context.Background()))
	}

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot()
		return err == nil && snap.Done
	}, 2*time.Second, 5*time.Millisecond)

	// The render loop notices completion on its own and pushes a terminal
	// snapshot without waiting for Close.
	require.Eventually(t, func() bool {
		last, ok := sink.lastRender()
		return ok && last.Done
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	finals := sink.finalSnapshots()
	require.Len(t, finals, 1)
	final := finals[0]
	require.True(t, final.Done)
	require.Equal(t, "backfill", final.Title)
	require.Equal(t, uint64(40), final.Completed)
	require.InDelta(t, 1.0, final.Fraction, 1e-9)
	require.Equal(t, 2, final.Connected)
	require.Len(t, final.Workers, 2)
	require.Equal(t, uint32(1), final.Workers[0].ID)
	require.Equal(t, uint64(20), final.Workers[0].Progress)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-events", msgs[0].Topic)
	evt, ok := msgs[0].Payload.(CompletionEvent)
	require.True(t, ok)
	require.Equal(t, m.RunID().String(), evt.RunID)
	require.Equal(t, StatusCompleted, evt.Status)
	require.Equal(t, uint64(40), evt.Completed)
	require.Equal(t, 2, evt.ConnectedWorkers)

	// Closing again changes nothing.
	require.NoError(t, m.Close(context.Background()))
	require.Len(t, sink.finalSnapshots(), 1)
	require.Len(t, pub.Messages(), 1)
}

// TestMonitorAbortedRun closes an aggregator before the loop finishes and
// expects the aborted status on the completion event.
func TestMonitorAbortedRun(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	pub := memory.New()
	m, err := New(Config{
		Spec:         loop.Spec{TotalIterations: 100, Workers: 1},
		UpdatePeriod: 10 * time.Millisecond,
		Publisher:    pub,
		Topic:        "run-events",
		Logger:       zap.NewNop(),
	}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	finals := sink.finalSnapshots()
	require.Len(t, finals, 1)
	require.False(t, finals[0].Done)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	evt, ok := msgs[0].Payload.(CompletionEvent)
	require.True(t, ok)
	require.Equal(t, StatusAborted, evt.Status)
	require.Zero(t, evt.Completed)
}

// TestMonitorRoles pins down which operations each role supports.
func TestMonitorRoles(t *testing.T) {
	t.Parallel()

	agg, err := New(Config{
		Spec:   loop.Spec{TotalIterations: 50, Workers: 1},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	defer agg.Close(context.Background())

	// Counting operations are worker-only no-ops on the aggregator.
	agg.Increment()
	agg.Add(10)
	require.Zero(t, agg.Count())

	desc, err := agg.Descriptor()
	require.NoError(t, err)

	w, err := NewWorker(desc, 7, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, RoleWorker, w.Role())
	require.Equal(t, desc.Addr, w.Addr())
	require.Equal(t, uuid.Nil, w.RunID())

	_, err = w.Snapshot()
	require.ErrorIs(t, err, ErrWorkerRole)
	_, err = w.Descriptor()
	require.ErrorIs(t, err, ErrWorkerRole)

	w.Increment()
	w.Add(4)
	require.Equal(t, int64(5), w.Count())

	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))
}

// TestNewWorkerRejectsBadDescriptor refuses descriptors that would leave the
// reporter misconfigured.
func TestNewWorkerRejectsBadDescriptor(t *testing.T) {
	t.Parallel()

	_, err := NewWorker(Descriptor{StepSize: 1, TotalIterations: 10}, 1, zap.NewNop())
	require.Error(t, err)

	_, err = NewWorker(Descriptor{Addr: "127.0.0.1:9", StepSize: 0, TotalIterations: 10}, 1, zap.NewNop())
	require.Error(t, err)
}
