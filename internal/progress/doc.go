// Package progress provides the event primitives, non-blocking hub, and emitter
// interface that the pipeline uses to report per-document progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs, Prometheus counters or an in-memory tally.
package progress
