// Package crawler implements the paper harvesting engine: the shared record
// types, typed errors, retry policy, and the pipeline that walks the listing
// hierarchy and persists one row per document.
package crawler
