// Package metrics exposes Prometheus collectors for bootstrap steps and
// readiness probes.
package metrics
