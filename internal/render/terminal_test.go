package render

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTerminalSinkDrawsBar checks the exact shape of the rendered line.
func TestTerminalSinkDrawsBar(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewTerminalSink(&buf, 10, false)

	snap := Snapshot{
		Title:           "ingest",
		TotalIterations: 1000,
		Completed:       500,
		Fraction:        0.5,
		Connected:       4,
		Elapsed:         90 * time.Second,
	}
	require.NoError(t, sink.Render(context.Background(), snap))
	require.Equal(t, "\ringest   50.0% [=====>    ] 500/1000 workers=4 elapsed=1m30s", buf.String())
}

// TestTerminalSinkWorkerDetail covers the optional per-worker suffix.
func TestTerminalSinkWorkerDetail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewTerminalSink(&buf, 10, true)

	snap := Snapshot{
		TotalIterations: 500,
		Completed:       375,
		Fraction:        0.75,
		Connected:       2,
		Workers: []WorkerProgress{
			{ID: 1, Progress: 250, Fraction: 1.0},
			{ID: 2, Progress: 125, Fraction: 0.5},
		},
	}
	require.NoError(t, sink.Render(context.Background(), snap))
	require.Contains(t, buf.String(), "[1:100% 2:50%]")
}

// TestTerminalSinkPadsShrinkingLines ensures a shorter redraw blanks the
// residue of a longer one.
func TestTerminalSinkPadsShrinkingLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewTerminalSink(&buf, 5, false)

	require.NoError(t, sink.Render(context.Background(), Snapshot{
		TotalIterations: 1_000_000, Completed: 999_999, Fraction: 0.999999,
	}))
	require.NoError(t, sink.Render(context.Background(), Snapshot{
		TotalIterations: 1_000_000, Completed: 1, Fraction: 0.000001,
	}))

	parts := strings.Split(buf.String(), "\r")
	require.Len(t, parts, 3)
	require.Empty(t, parts[0])
	require.Len(t, parts[2], len(parts[1]))
	require.True(t, strings.HasSuffix(parts[2], " "))
}

// TestTerminalSinkCloseFinishesLine verifies the final draw, the trailing
// newline, and idempotency.
func TestTerminalSinkCloseFinishesLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewTerminalSink(&buf, 8, false)

	final := Snapshot{
		TotalIterations: 100,
		Completed:       100,
		Fraction:        1.0,
		Connected:       2,
		Done:            true,
	}
	require.NoError(t, sink.Close(context.Background(), final))
	out := buf.String()
	require.Contains(t, out, "100.0% [========]")
	require.True(t, strings.HasSuffix(out, "\n"))

	// Close and Render are no-ops once finished.
	require.NoError(t, sink.Close(context.Background(), final))
	require.NoError(t, sink.Render(context.Background(), final))
	require.Equal(t, out, buf.String())
}

// TestTerminalSinkDefaults exercises the stdout/width fallbacks without
// writing to a real terminal.
func TestTerminalSinkDefaults(t *testing.T) {
	t.Parallel()

	sink := NewTerminalSink(nil, 0, false)
	require.NotNil(t, sink.out)
	require.Equal(t, defaultBarWidth, sink.width)
}
