// Package cache provides the engine's in-memory key-value stores: the
// per-process profile cache and the change-record cache. Both are
// constructor-injected into their owners so tests can build isolated
// instances. Nothing here survives a process restart.
package cache
