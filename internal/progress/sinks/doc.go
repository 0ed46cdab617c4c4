// Package sinks implements concrete progress consumers: structured logging,
// Prometheus counters and an in-memory per-year tally. Each sink satisfies the
// progress.Sink interface.
package sinks
