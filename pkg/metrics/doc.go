// Package metrics exposes Prometheus instrumentation for both cloudcom
// roles. Metrics are package-level collectors registered at init; each role
// mounts Handler() at /metrics.
package metrics
