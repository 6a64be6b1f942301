// Package monitor is the facade over the progress protocol. One Monitor
// plays exactly one of two roles, fixed at construction: the aggregator role
// owns the UDP receive endpoint, samples the worker table on a fixed-period
// ticker, and fans snapshots out to render sinks; the worker role wraps a
// reporter rebuilt from a connection descriptor and forwards increments. The
// descriptor is the only value that crosses the process boundary toward
// workers.
package monitor
