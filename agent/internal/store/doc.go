// Package store is the persistence facade used by the probe pipeline.
//
// KV is a byte-keyed map partitioned into named collections. Every backend
// offers the same four single-key operations plus a full scan of one
// collection; no operation spans more than one key, and the pipeline relies on
// nothing stronger than per-key atomicity.
//
// Backends:
//   - sqlite (default): one embedded database file, table kv(collection, key, value)
//   - redis: one hash per collection, for deployments sharing state across hosts
//   - memory: process-local maps, used by tests and dry runs
//
// Table[T] layers JSON encoding on top of a KV collection so callers work with
// typed records instead of raw bytes.
package store
