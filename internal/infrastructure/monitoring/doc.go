// Package monitoring provides Prometheus metrics for the transfer
// pipeline.
//
// The core increments counters; it never interprets them. The statistics
// collaborator polls them through the /metrics endpoint or the JSON
// snapshot on /stats.
//
// Metrics use a per-instance registry so tests can create collectors
// freely without duplicate-registration panics.
package monitoring
