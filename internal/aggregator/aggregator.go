// Package aggregator implements the receive side of the progress protocol: a
// UDP endpoint that folds worker datagrams into an in-memory progress table
// and serves point-in-time snapshots to renderers.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/clock/system"
	"github.com/JakeFAU/parmon/internal/metrics"
	"github.com/JakeFAU/parmon/internal/wire"
)

// Clock abstracts time so worker liveness can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// Config controls a Server.
//   - Addr: UDP listen endpoint (default "127.0.0.1:0" for an ephemeral port).
//   - TotalIterations: loop trip count the fractions are computed against.
//   - Clock: optional time source (defaults to the system clock).
//   - Logger: optional structured logger.
type Config struct {
	Addr            string
	TotalIterations int64
	Clock           Clock
	Logger          *zap.Logger
}

const (
	defaultAddr        = "127.0.0.1:0"
	malformedLogWindow = 5 * time.Second
	readBufferSize     = 64
)

// WorkerState is one row of the progress table as seen at snapshot time.
type WorkerState struct {
	// ID is the worker identifier carried on the wire.
	ID uint32
	// Progress is the highest cumulative count received so far.
	Progress uint64
	// Fraction is Progress over the worker's even share of the loop.
	Fraction float64
	// Addr is the remote address of the most recent datagram.
	Addr string
	// LastSeen is when the most recent datagram arrived.
	LastSeen time.Time
}

// Snapshot is a consistent copy of the table for renderers. Workers are
// sorted by ID.
type Snapshot struct {
	TotalIterations int64
	Completed       uint64
	Fraction        float64
	Connected       int
	Workers         []WorkerState
	TakenAt         time.Time
}

// Server listens for progress datagrams and aggregates them per worker. The
// protocol tolerates datagram loss, duplication, and reordering: updates
// carry cumulative counts and only ever move a worker's progress forward.
type Server struct {
	total  int64
	conn   *net.UDPConn
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	workers map[uint32]*workerEntry

	malformed  atomic.Int64
	badLimiter rateLimiter
	closed     atomic.Bool

	closeOnce sync.Once
	closeErr  error
	doneCh    chan struct{}
}

type workerEntry struct {
	progress uint64
	addr     string
	lastSeen time.Time
}

// New binds the UDP socket and starts the receive loop. The returned Server
// is immediately ready to accept datagrams; call Addr to learn the bound
// endpoint when an ephemeral port was requested.
func New(cfg Config) (*Server, error) {
	if cfg.TotalIterations < 1 {
		return nil, fmt.Errorf("total iterations must be at least 1, got %d", cfg.TotalIterations)
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	laddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %q: %w", cfg.Addr, err)
	}

	s := &Server{
		total:      cfg.TotalIterations,
		conn:       conn,
		clock:      clk,
		logger:     logger,
		workers:    make(map[uint32]*workerEntry),
		badLimiter: rateLimiter{interval: malformedLogWindow},
		doneCh:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Addr returns the bound UDP endpoint workers should dial.
func (s *Server) Addr() string {
	return s.conn.LocalAddr().String()
}

// Snapshot copies the progress table under the lock. Per-worker fractions
// are computed against an even split of the loop across currently connected
// workers; the aggregate fraction is the summed progress over the total,
// clamped to 1.
func (s *Server) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalIterations: s.total,
		Connected:       len(s.workers),
		TakenAt:         s.clock.Now(),
	}
	if len(s.workers) == 0 {
		return snap
	}

	share := s.total / int64(len(s.workers))
	if share < 1 {
		share = 1
	}

	ids := make([]uint32, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var completed uint64
	snap.Workers = make([]WorkerState, 0, len(ids))
	for _, id := range ids {
		entry := s.workers[id]
		completed += entry.progress
		snap.Workers = append(snap.Workers, WorkerState{
			ID:       id,
			Progress: entry.progress,
			Fraction: clampFraction(float64(entry.progress) / float64(share)),
			Addr:     entry.addr,
			LastSeen: entry.lastSeen,
		})
	}
	if completed > uint64(s.total) {
		completed = uint64(s.total)
	}
	snap.Completed = completed
	snap.Fraction = clampFraction(float64(completed) / float64(s.total))
	return snap
}

// Close stops the receive loop, releases the socket, and blocks until the
// loop exits. It is safe to call multiple times.
func (s *Server) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.conn.Close(); err != nil {
			s.closeErr = fmt.Errorf("close aggregator socket: %w", err)
		}
	})
	select {
	case <-s.doneCh:
		return s.closeErr
	case <-ctx.Done():
		return fmt.Errorf("aggregator close wait: %w", ctx.Err())
	}
}

func (s *Server) run() {
	defer close(s.doneCh)
	buf := make([]byte, readBufferSize)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("datagram read failed", zap.Error(err))
			continue
		}
		s.handle(buf[:n], raddr)
	}
}

func (s *Server) handle(data []byte, raddr *net.UDPAddr) {
	msg, err := wire.Unmarshal(data)
	if err != nil {
		metrics.ObserveMalformedDatagram()
		s.malformed.Add(1)
		if s.badLimiter.Allow(s.clock.Now()) {
			count := s.malformed.Swap(0)
			s.logger.Debug("malformed datagrams dropped",
				zap.Int64("count", count),
				zap.String("remote", raddr.String()),
				zap.Error(err))
		}
		return
	}
	metrics.ObserveDatagram(string(msg.Kind()))

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.workers[msg.WorkerID]
	if entry == nil {
		entry = &workerEntry{}
		s.workers[msg.WorkerID] = entry
	}
	entry.addr = raddr.String()
	entry.lastSeen = now

	switch msg.Kind() {
	case wire.KindRegistration:
		// A repeated registration means the worker restarted, so its
		// counter starts over.
		entry.progress = 0
		s.logger.Debug("worker registered",
			zap.Uint32("worker_id", msg.WorkerID),
			zap.String("remote", raddr.String()))
	case wire.KindUpdate:
		// Stale or duplicated updates carry a lower cumulative count and
		// are ignored. An update from an unknown worker registers it
		// implicitly so reordered datagrams are not lost.
		if msg.Value > entry.progress {
			entry.progress = msg.Value
		}
	}
}

func clampFraction(f float64) float64 {
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
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
