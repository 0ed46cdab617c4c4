// Package api hosts the optional operator HTTP endpoint that runs alongside a
// harvest or annotation pass. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for a JSON snapshot of the current run, the event tally and
//     scheduler occupancy; /progress/years/{year} narrows it to one year.
//   - GET /progress/catalog for per-year counts of documents already persisted.
package api
