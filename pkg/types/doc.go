// Package types defines the shared data model for the rollcall engine:
// roster members, badge-scan events, the daily attendance window, and the
// results of batch status writes. All values are ephemeral; they are
// rebuilt from the upstream services on every reconciliation run.
package types
