package store

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Table is a typed view of one KV collection. Values are stored as JSON.
type Table[T any] struct {
	kv   KV
	coll Collection
}

// NewTable returns a Table over collection c of kv.
func NewTable[T any](kv KV, c Collection) *Table[T] {
	return &Table[T]{kv: kv, coll: c}
}

// Get returns the value stored under key. ok is false when the key is absent.
func (t *Table[T]) Get(ctx context.Context, key string) (v T, ok bool, err error) {
	raw, err := t.kv.Get(ctx, t.coll, []byte(key))
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("store: decode %s/%s: %w", t.coll, key, err)
	}
	return v, true, nil
}

// Put encodes v and stores it under key.
func (t *Table[T]) Put(ctx context.Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", t.coll, key, err)
	}
	return t.kv.Put(ctx, t.coll, []byte(key), raw)
}

// Delete removes key.
func (t *Table[T]) Delete(ctx context.Context, key string) error {
	return t.kv.Delete(ctx, t.coll, []byte(key))
}

// Entry is one decoded row returned by All.
type Entry[T any] struct {
	Key   string
	Value T
}

// All returns every decodable entry of the collection, each key once. Rows
// that fail to decode are skipped and counted in skipped. A key reported
// twice by the backend (redis HSCAN during a rehash) keeps its first value.
func (t *Table[T]) All(ctx context.Context) (entries []Entry[T], skipped int, err error) {
	seen := make(map[string]struct{})
	err = t.kv.Scan(ctx, t.coll, func(key, value []byte) error {
		k := string(key)
		if _, dup := seen[k]; dup {
			return nil
		}
		seen[k] = struct{}{}

		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			skipped++
			return nil
		}
		entries = append(entries, Entry[T]{Key: k, Value: v})
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return entries, skipped, nil
}
