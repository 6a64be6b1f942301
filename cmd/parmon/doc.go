// Package main hosts the progress monitor service entrypoint.
//
// Architecture overview:
//   - Monitor & aggregator: internal/monitor owns one run. The aggregator role binds a UDP socket, decodes 16-byte
//     progress datagrams from workers, and keeps a per-worker progress table. A render ticker samples that table on a
//     fixed period, fully decoupled from datagram arrival, so a stalled worker never freezes the display.
//   - Reporting: workers count iterations locally and only emit a datagram every step-size increments. The step size
//     is derived from the loop trip count so reporting overhead stays bounded no matter how hot the loop body is.
//     Registration datagrams (value zero) announce a worker before its first progress report.
//   - Render sinks: each sample fans out to the configured sinks (terminal bar, zap log lines, Prometheus gauges)
//     plus the run-history store sink and the report archiver. Sink failures are logged and never block the run.
//   - Persistence & fanout: run history lives in Postgres when a DSN is configured (in memory otherwise) and is
//     served by the /v1/runs endpoints. On completion a JSON report is archived to the configured BlobStore
//     (memory/local/GCS) under a content-addressed name, and a completion event is published to Pub/Sub when a topic
//     is configured.
//   - Execution pool: with pool.enabled the service drives the loop itself, splitting iterations into contiguous
//     per-worker shares; otherwise external workers dial the descriptor printed at startup.
//   - Configuration & plumbing: Viper populates config from env/files (PARMON_ prefix); zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry trace
//     propagation is wired into the Pub/Sub publisher.
//
// Operational notes:
//   - Concurrency model: one goroutine reads the UDP socket, one runs the render ticker. Progress updates are
//     fire-and-forget, so a dead aggregator never stalls a worker loop. Shutdown is coordinated via context
//     cancellation from main through the monitor to every sink.
//   - Loss tolerance: datagrams carry absolute per-worker counts, so a dropped packet only delays the display until
//     the next report. The final flush on worker close covers iterations below the step-size threshold.
//   - Observability: zap logs carry run IDs at key transitions; Prometheus gauges track aggregate and per-worker
//     fractions; counters track datagram and HTTP activity.
//
// Quick checklist:
//   - Configure env vars: PARMON_MONITOR_TOTAL_ITERATIONS and PARMON_MONITOR_WORKERS for the loop shape,
//     PARMON_SERVER_PORT for the API, storage (PARMON_STORAGE_*), pubsub, and the database DSN when persistence
//     beyond memory is required.
//   - Run locally: go run ./cmd/parmon -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM for graceful drain: the HTTP server stops, the monitor closes its sinks, and the
//     final report is archived before exit.
package main
