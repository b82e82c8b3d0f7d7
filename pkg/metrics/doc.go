// Package metrics exposes Prometheus instrumentation and a component
// health registry for the rollcall engine. Metrics are package-level
// collectors registered at init; gateways and the scheduler update them
// directly. The health registry backs the /healthz endpoint.
package metrics
