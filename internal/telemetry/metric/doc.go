// Package metric provides Prometheus metrics for worldsync.
//
// This package implements metrics collection and exposition:
//
//   - Tick duration histograms and delayed-tick counters per sync group
//   - Active session and subscription gauges
//   - Frame send / drop counters
//   - Query latency histograms
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
