package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
)

// ErrNotFound is returned by KV.Get when the key does not exist.
var ErrNotFound = errors.New("store: not found")

// Collection names one logical table inside a KV.
type Collection string

// Collections used by the probe pipeline.
const (
	Records Collection = "record"
	Pending Collection = "unverified_tx"
	Buckets Collection = "verified_result"
)

// KV is a persistent map of byte keys to byte values, partitioned by collection.
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, c Collection, key []byte) ([]byte, error)

	// Put inserts or replaces the value stored under key.
	Put(ctx context.Context, c Collection, key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, c Collection, key []byte) error

	// Scan calls fn for every entry of c. Iteration stops at the first error
	// returned by fn. fn may write to the store.
	Scan(ctx context.Context, c Collection, fn func(key, value []byte) error) error

	Close() error
}

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (KV, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return OpenSQLite(ctx, cfg.Path)
	case config.BackendRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case config.BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
