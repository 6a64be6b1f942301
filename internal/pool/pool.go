// Package pool fans loop iterations out to a fixed set of goroutine
// workers, each reporting progress through its own reporter.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/monitor"
)

// Body is the per-iteration work function. Iterations are numbered 1 through
// the loop total. A body error is logged and the loop moves on; progress
// counts trips, not successes.
type Body func(ctx context.Context, iteration int64) error

// Config controls a Pool.
//   - Workers: number of goroutines; must be at least 1.
//   - Descriptor: aggregator connection details each worker dials.
//   - Logger: optional structured logger.
type Config struct {
	Workers    int
	Descriptor monitor.Descriptor
	Logger     *zap.Logger
}

// Pool splits a loop into contiguous per-worker shares and runs them in
// parallel. The split is static: worker k owns its range for the whole run.
type Pool struct {
	workers int
	desc    monitor.Descriptor
	body    Body
	logger  *zap.Logger
}

// share is one worker's contiguous slice of the loop.
type share struct {
	start int64
	count int64
}

// New validates the configuration and builds a Pool. A pool needs at least
// one worker and a body to run.
func New(cfg Config, body Body) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, errors.New("pool: no workers available")
	}
	if body == nil {
		return nil, errors.New("pool: body is required")
	}
	if err := cfg.Descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: cfg.Workers,
		desc:    cfg.Descriptor,
		body:    body,
		logger:  logger,
	}, nil
}

// Run executes the loop and blocks until every worker finishes or the
// context is canceled. Cancellation is honored between iterations; the
// current body call is never interrupted. Body errors are logged and
// counted, not returned.
func (p *Pool) Run(ctx context.Context) error {
	shares := splitShares(p.desc.TotalIterations, p.workers)

	var bodyErrs atomic.Int64
	var wg sync.WaitGroup
	for i, sh := range shares {
		wg.Add(1)
		go func(workerID uint32, sh share) {
			defer wg.Done()
			p.runWorker(ctx, workerID, sh, &bodyErrs)
		}(uint32(i+1), sh)
	}
	wg.Wait()

	if n := bodyErrs.Load(); n > 0 {
		p.logger.Warn("pool finished with body errors", zap.Int64("errors", n))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pool: run interrupted: %w", err)
	}
	return nil
}

func (p *Pool) runWorker(ctx context.Context, workerID uint32, sh share, bodyErrs *atomic.Int64) {
	w, err := monitor.NewWorker(p.desc, workerID, p.logger)
	if err != nil {
		// The loop still runs; only the progress display loses this worker.
		p.logger.Warn("worker reporting unavailable",
			zap.Uint32("worker_id", workerID), zap.Error(err))
		w = nil
	}
	defer func() {
		if w != nil {
			if cerr := w.Close(context.Background()); cerr != nil {
				p.logger.Warn("worker close failed",
					zap.Uint32("worker_id", workerID), zap.Error(cerr))
			}
		}
	}()

	end := sh.start + sh.count
	for it := sh.start; it < end; it++ {
		if ctx.Err() != nil {
			return
		}
		if err := p.body(ctx, it); err != nil {
			bodyErrs.Add(1)
			p.logger.Error("iteration failed",
				zap.Uint32("worker_id", workerID),
				zap.Int64("iteration", it),
				zap.Error(err))
		}
		if w != nil {
			w.Increment()
		}
	}
}

// splitShares cuts [1..total] into contiguous ranges, one per worker, with
// the remainder spread across the first shares. Workers past the total get
// an empty share; they still register so the aggregator sees them.
func splitShares(total int64, workers int) []share {
	shares := make([]share, workers)
	base := total / int64(workers)
	rem := total % int64(workers)

	next := int64(1)
	for i := range shares {
		count := base
		if int64(i) < rem {
			count++
		}
		shares[i] = share{start: next, count: count}
		next += count
	}
	return shares
}
