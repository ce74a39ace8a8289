package cache

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the blob store backing the binary page cache. One blob per
// content hash, kept outside the primary database. Invalidation is always
// explicit; entries never expire on their own.
type Store struct {
	db *sqlx.DB
}

// New opens the blob store at the given file path (use "file::memory:" for
// an in-memory store in tests) and ensures the cache table exists.
func New(filePath string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache store: %w", err)
	}

	// For a cache, WAL mode is generally better for concurrency.
	if _, err = db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode on cache store: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS page_cache (
		hash TEXT PRIMARY KEY,
		blob BLOB NOT NULL
	);
	`
	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get retrieves a blob by hash. A miss returns nil with no error; a miss is
// a normal outcome, not a failure.
func (s *Store) Get(hash string) ([]byte, error) {
	var blob []byte
	err := s.db.Get(&blob, `SELECT blob FROM page_cache WHERE hash = ?`, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache blob: %w", err)
	}
	return blob, nil
}

// Put stores a blob under the given hash, replacing any previous entry.
func (s *Store) Put(hash string, blob []byte) error {
	query := `INSERT OR REPLACE INTO page_cache (hash, blob) VALUES (?, ?)`
	if _, err := s.db.Exec(query, hash, blob); err != nil {
		return fmt.Errorf("failed to put cache blob: %w", err)
	}
	return nil
}

// Delete removes the blob under the given hash. Deleting an absent entry is
// a no-op, which keeps bus-driven invalidation idempotent.
func (s *Store) Delete(hash string) error {
	if _, err := s.db.Exec(`DELETE FROM page_cache WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("failed to delete cache blob: %w", err)
	}
	return nil
}

// Flush removes every cached blob.
func (s *Store) Flush() error {
	if _, err := s.db.Exec(`DELETE FROM page_cache`); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}
