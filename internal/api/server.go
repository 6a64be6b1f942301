// Package api exposes the HTTP interface for the progress monitor service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/parmon/internal/config"
	"github.com/JakeFAU/parmon/internal/metrics"
	"github.com/JakeFAU/parmon/internal/policy/ratelimit"
	"github.com/JakeFAU/parmon/internal/render"
	"github.com/JakeFAU/parmon/internal/store"
)

// SnapshotSource provides the live view of the monitored run.
type SnapshotSource interface {
	Snapshot() (render.Snapshot, error)
}

// Server wires HTTP handlers to the monitor and the run repository.
type Server struct {
	router chi.Router
	source SnapshotSource
	runs   *RunHandler
	logger *zap.Logger
	cfg    config.Config
}

// NewServer constructs a Server with middleware and routes. The snapshot
// source and the repository are both optional; their endpoints answer 503
// when the dependency is absent.
func NewServer(source SnapshotSource, repo store.RunRepository, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	s := &Server{
		source: source,
		runs:   NewRunHandler(repo, logger),
		logger: logger,
		cfg:    cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		})
		r.Use(rateLimitMiddleware(limiter))
	}
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", s.getProgress)
		r.Get("/workers", s.getWorkers)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.runs.GetRun)
				r.Get("/workers", s.runs.ListRunWorkers)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": toProgressDTO(snap)})
}

func (s *Server) getWorkers(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": toWorkerDTOs(snap.Workers)})
}

func (s *Server) snapshot(w http.ResponseWriter) (render.Snapshot, bool) {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return render.Snapshot{}, false
	}
	snap, err := s.source.Snapshot()
	if err != nil {
		s.logger.Error("snapshot failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return render.Snapshot{}, false
	}
	return snap, true
}

type progressDTO struct {
	Title            string      `json:"title,omitempty"`
	TotalIterations  int64       `json:"total_iterations"`
	Completed        uint64      `json:"completed"`
	Fraction         float64     `json:"fraction"`
	ConnectedWorkers int         `json:"connected_workers"`
	ElapsedMs        int64       `json:"elapsed_ms"`
	TakenAt          time.Time   `json:"taken_at"`
	Done             bool        `json:"done"`
	Workers          []workerDTO `json:"workers,omitempty"`
}

type workerDTO struct {
	ID       uint32    `json:"id"`
	Progress uint64    `json:"progress"`
	Fraction float64   `json:"fraction"`
	LastSeen time.Time `json:"last_seen"`
}

func toProgressDTO(snap render.Snapshot) progressDTO {
	return progressDTO{
		Title:            snap.Title,
		TotalIterations:  snap.TotalIterations,
		Completed:        snap.Completed,
		Fraction:         snap.Fraction,
		ConnectedWorkers: snap.Connected,
		ElapsedMs:        snap.Elapsed.Milliseconds(),
		TakenAt:          snap.TakenAt,
		Done:             snap.Done,
		Workers:          toWorkerDTOs(snap.Workers),
	}
}

func toWorkerDTOs(in []render.WorkerProgress) []workerDTO {
	out := make([]workerDTO, 0, len(in))
	for _, w := range in {
		out = append(out, workerDTO{
			ID:       w.ID,
			Progress: w.Progress,
			Fraction: w.Fraction,
			LastSeen: w.LastSeen,
		})
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestIDFrom(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func rateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.Header.Get("X-API-Key")
			if client == "" {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				client = host
			}
			if !limiter.Allow(client) {
				metrics.ObserveThrottledRequest()
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
