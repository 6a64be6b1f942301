package render

import (
	"context"

	"go.uber.org/zap"
)

// LogSink emits structured logs for progress snapshots. It is useful on
// headless deployments where no terminal is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Render logs the aggregate state using structured fields.
func (s *LogSink) Render(_ context.Context, snap Snapshot) error {
	s.logger.Info("run progress", snapshotFields(snap)...)
	return nil
}

// Close logs the final state of the run.
func (s *LogSink) Close(_ context.Context, final Snapshot) error {
	s.logger.Info("run finished", snapshotFields(final)...)
	return nil
}

func snapshotFields(snap Snapshot) []zap.Field {
	return []zap.Field{
		zap.String("title", snap.Title),
		zap.Float64("fraction", snap.Fraction),
		zap.Uint64("completed", snap.Completed),
		zap.Int64("total_iterations", snap.TotalIterations),
		zap.Int("connected_workers", snap.Connected),
		zap.Duration("elapsed", snap.Elapsed),
		zap.Bool("done", snap.Done),
	}
}
