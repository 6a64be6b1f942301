package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/loop"
	"github.com/JakeFAU/parmon/internal/monitor"
)

func newAggregator(t *testing.T, total int64, workers int) *monitor.Monitor {
	t.Helper()
	m, err := monitor.New(monitor.Config{
		Spec:         loop.Spec{TotalIterations: total, Workers: workers},
		UpdatePeriod: 10 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

// TestSplitShares pins the contiguous split and the remainder placement.
func TestSplitShares(t *testing.T) {
	t.Parallel()

	shares := splitShares(10, 3)
	require.Equal(t, []share{
		{start: 1, count: 4},
		{start: 5, count: 3},
		{start: 8, count: 3},
	}, shares)

	shares = splitShares(4, 4)
	for i, sh := range shares {
		require.Equal(t, int64(i+1), sh.start)
		require.Equal(t, int64(1), sh.count)
	}

	// More workers than iterations leaves the tail shares empty.
	shares = splitShares(2, 4)
	require.Equal(t, int64(1), shares[0].count)
	require.Equal(t, int64(1), shares[1].count)
	require.Zero(t, shares[2].count)
	require.Zero(t, shares[3].count)
}

// TestPoolRunCoversEveryIteration checks that the shares tile the loop
// exactly once and that progress reaches the aggregator.
func TestPoolRunCoversEveryIteration(t *testing.T) {
	t.Parallel()

	const total = 50
	m := newAggregator(t, total, 3)
	desc, err := m.Descriptor()
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int64]int)
	p, err := New(Config{Workers: 3, Descriptor: desc, Logger: zap.NewNop()},
		func(_ context.Context, it int64) error {
			mu.Lock()
			seen[it]++
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))

	mu.Lock()
	require.Len(t, seen, total)
	for it := int64(1); it <= total; it++ {
		require.Equal(t, 1, seen[it], "iteration %d", it)
	}
	mu.Unlock()

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot()
		return err == nil && snap.Done
	}, 2*time.Second, 5*time.Millisecond)
}

// TestPoolBodyErrorsDoNotStopTheLoop runs a body that fails on every even
// iteration and expects full coverage regardless.
func TestPoolBodyErrorsDoNotStopTheLoop(t *testing.T) {
	t.Parallel()

	const total = 20
	m := newAggregator(t, total, 2)
	desc, err := m.Descriptor()
	require.NoError(t, err)

	var mu sync.Mutex
	var calls int
	p, err := New(Config{Workers: 2, Descriptor: desc, Logger: zap.NewNop()},
		func(_ context.Context, it int64) error {
			mu.Lock()
			calls++
			mu.Unlock()
			if it%2 == 0 {
				return errors.New("flaky iteration")
			}
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))

	mu.Lock()
	require.Equal(t, total, calls)
	mu.Unlock()

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot()
		return err == nil && snap.Done
	}, 2*time.Second, 5*time.Millisecond)
}

// TestPoolHonorsCancellation cancels mid-run and expects the loop to stop
// between iterations.
func TestPoolHonorsCancellation(t *testing.T) {
	t.Parallel()

	m := newAggregator(t, 1000, 1)
	desc, err := m.Descriptor()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var calls int
	p, err := New(Config{Workers: 1, Descriptor: desc, Logger: zap.NewNop()},
		func(_ context.Context, it int64) error {
			mu.Lock()
			calls++
			mu.Unlock()
			if it == 5 {
				cancel()
			}
			return nil
		})
	require.NoError(t, err)

	err = p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	require.Equal(t, 5, calls)
	mu.Unlock()
}

// TestPoolConstructionErrors rejects configurations that cannot run.
func TestPoolConstructionErrors(t *testing.T) {
	t.Parallel()

	desc := monitor.Descriptor{Addr: "127.0.0.1:9", StepSize: 1, TotalIterations: 10}

	_, err := New(Config{Workers: 0, Descriptor: desc}, func(context.Context, int64) error { return nil })
	require.Error(t, err)

	_, err = New(Config{Workers: 1, Descriptor: desc}, nil)
	require.Error(t, err)

	_, err = New(Config{Workers: 1, Descriptor: monitor.Descriptor{}}, func(context.Context, int64) error { return nil })
	require.Error(t, err)
}
