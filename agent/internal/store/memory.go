package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a thread-safe in-memory KV. Values are copied on the way in and
// out so callers can never alias stored bytes.
type Memory struct {
	mu   sync.RWMutex
	data map[Collection]map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[Collection]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, c Collection, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[c][string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Put(_ context.Context, c Collection, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.data[c]
	if !ok {
		coll = make(map[string][]byte)
		m.data[c] = coll
	}
	coll[string(key)] = clone(value)
	return nil
}

func (m *Memory) Delete(_ context.Context, c Collection, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[c], string(key))
	return nil
}

// Scan iterates over a copy of the collection taken under the read lock, in
// key order, so fn is free to write back into the store.
func (m *Memory) Scan(ctx context.Context, c Collection, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data[c]))
	vals := make(map[string][]byte, len(m.data[c]))
	for k, v := range m.data[c] {
		keys = append(keys, k)
		vals[k] = clone(v)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(k), vals[k]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries in c.
func (m *Memory) Len(c Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[c])
}

func (m *Memory) Close() error { return nil }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
