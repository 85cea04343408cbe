package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite is a KV stored in a single embedded database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// kv table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}
	// A single connection serialises writers; sqlite would otherwise return
	// SQLITE_BUSY under concurrent sender and metrics access.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite %q: %w", path, err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite %q: %w", path, err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
	collection TEXT NOT NULL,
	key        BLOB NOT NULL,
	value      BLOB NOT NULL,
	PRIMARY KEY (collection, key)
) WITHOUT ROWID;
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) Get(ctx context.Context, c Collection, key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE collection = ? AND key = ?`, string(c), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: sqlite get %s/%s: %w", c, key, err)
	}
	return v, nil
}

func (s *SQLite) Put(ctx context.Context, c Collection, key, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (collection, key, value) VALUES (?, ?, ?)
ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value`,
		string(c), key, value)
	if err != nil {
		return fmt.Errorf("store: sqlite put %s/%s: %w", c, key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, c Collection, key []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE collection = ? AND key = ?`, string(c), key)
	if err != nil {
		return fmt.Errorf("store: sqlite delete %s/%s: %w", c, key, err)
	}
	return nil
}

// Scan reads the whole collection before invoking fn. With a single pooled
// connection, writing from fn while rows are still open would block forever.
func (s *SQLite) Scan(ctx context.Context, c Collection, fn func(key, value []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE collection = ? ORDER BY key`, string(c))
	if err != nil {
		return fmt.Errorf("store: sqlite scan %s: %w", c, err)
	}
	type kv struct{ k, v []byte }
	var entries []kv
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.k, &e.v); err != nil {
			rows.Close()
			return fmt.Errorf("store: sqlite scan %s: %w", c, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("store: sqlite scan %s: %w", c, err)
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
