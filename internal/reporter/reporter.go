// Package reporter implements the worker side of the progress protocol: a
// local iteration counter that announces itself once and then reports
// cumulative progress to the aggregator over UDP at a sampled step.
package reporter

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/wire"
)

// Config controls a Reporter.
//   - WorkerID: identifier carried in every datagram from this worker.
//   - Addr: the aggregator's UDP endpoint, e.g. "127.0.0.1:9031".
//   - StepSize: local increments folded into one Update (minimum 1).
//   - Logger: optional structured logger used for send warnings.
type Config struct {
	WorkerID uint32
	Addr     string
	StepSize int64
	Logger   *zap.Logger
}

const sendWarnInterval = 5 * time.Second

// Reporter counts loop iterations on one worker and reports progress to the
// aggregator. Sends are fire and forget: a lost datagram costs at most one
// step of display accuracy and never disturbs the loop. Safe for concurrent
// use by multiple goroutines.
type Reporter struct {
	id     uint32
	step   int64
	conn   *net.UDPConn
	logger *zap.Logger

	count       atomic.Int64
	failures    atomic.Int64
	warnLimiter rateLimiter
	closed      atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// New resolves the aggregator address, opens the UDP socket, and announces
// the worker with a registration datagram. Construction is the only fallible
// phase; every send after it is best effort.
func New(cfg Config) (*Reporter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("aggregator address is required")
	}
	if cfg.StepSize < 1 {
		cfg.StepSize = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	raddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve aggregator address %q: %w", cfg.Addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial aggregator %q: %w", cfg.Addr, err)
	}
	r := &Reporter{
		id:          cfg.WorkerID,
		step:        cfg.StepSize,
		conn:        conn,
		logger:      logger,
		warnLimiter: rateLimiter{interval: sendWarnInterval},
	}
	r.send(wire.Registration(cfg.WorkerID))
	return r, nil
}

// Increment adds one iteration to the local counter and, when the counter
// lands on a step boundary, reports the cumulative count. Off-boundary
// increments touch nothing but the counter.
func (r *Reporter) Increment() {
	if r == nil {
		return
	}
	n := r.count.Add(1)
	if n%r.step != 0 {
		return
	}
	if r.closed.Load() {
		return
	}
	r.send(wire.Update(r.id, uint64(n)))
}

// Add folds n iterations into the counter at once. At most one Update goes
// out per call, carrying the cumulative count, so skipping over several step
// boundaries in one Add costs nothing extra on the wire.
func (r *Reporter) Add(n int64) {
	if r == nil || n <= 0 {
		return
	}
	cur := r.count.Add(n)
	if cur/r.step == (cur-n)/r.step {
		return
	}
	if r.closed.Load() {
		return
	}
	r.send(wire.Update(r.id, uint64(cur)))
}

// Count returns the local iteration count so far.
func (r *Reporter) Count() int64 {
	if r == nil {
		return 0
	}
	return r.count.Load()
}

// Close reports any residual progress the sampling step was still holding
// back and releases the socket. It is safe to call multiple times; later
// increments keep counting locally but are no longer sent.
func (r *Reporter) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		if n := r.count.Load(); n > 0 && n%r.step != 0 {
			r.send(wire.Update(r.id, uint64(n)))
		}
		if err := r.conn.Close(); err != nil {
			r.closeErr = fmt.Errorf("close reporter socket: %w", err)
		}
	})
	return r.closeErr
}

func (r *Reporter) send(msg wire.Message) {
	if _, err := r.conn.Write(msg.Marshal()); err != nil {
		r.failures.Add(1)
		if r.warnLimiter.Allow(time.Now()) {
			count := r.failures.Swap(0)
			r.logger.Warn("progress send failed",
				zap.Uint32("worker_id", r.id),
				zap.Int64("failures", count),
				zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
