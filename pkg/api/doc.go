// Package api serves the engine's status endpoints: /healthz and /metrics.
package api
