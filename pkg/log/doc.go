// Package log provides structured logging for rollcall built on zerolog.
// Init configures the global logger once at startup; components obtain
// child loggers with WithComponent, WithJob, and WithMember so every line
// carries enough context for manual remediation of a failed write.
package log
