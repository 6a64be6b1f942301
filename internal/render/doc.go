// Package render turns aggregated progress snapshots into output for humans
// and machines. The monitor drives every sink from one fixed-period ticker,
// so rendering cost never depends on how fast workers iterate. Concrete
// sinks cover an in-place terminal bar, structured logs, Prometheus gauges,
// and repository-backed run history; each satisfies the render.Sink
// interface and tolerates snapshots arriving in any state of completion.
package render
