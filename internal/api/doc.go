// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/workers for the live snapshot of the
//     monitored run.
//   - GET /v1/runs and /v1/runs/{run_id}/... for run history via the
//     RunRepository interface.
package api
