// Package store persists an append-only audit log of session lifecycle
// events (created, resumed, orphaned, expired, ended) in SQLite.
//
// Sessions are in-memory only and die with the process; the audit log is
// the one thing that outlives them. An empty database path in the config
// swaps in NopStore and disables auditing entirely.
package store
