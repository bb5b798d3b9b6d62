// Package cache is a durable local key-value store for the last-known
// project, tool and chat lists. Entries are JSON documents keyed by fixed
// storage names.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Storage names for the cached lists.
const (
	Projects = "agentflow-projects"
	Tools    = "agentflow-tools"
	Chats    = "agentflow-chats"
)

var (
	// ErrNotFound is returned when nothing is cached under a name yet.
	ErrNotFound = errors.New("cache: not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("cache: closed")
)

// Store persists JSON documents to SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// Open creates or opens the cache at path. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			name       TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Put replaces the document stored under name.
func (s *Store) Put(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err = s.db.Exec(`
		INSERT INTO entries (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, name, data, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

// Get decodes the document stored under name into dst and returns when it
// was written. Unknown fields in the stored document are ignored.
func (s *Store) Get(name string, dst any) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return time.Time{}, ErrClosed
	}

	var data []byte
	var stamp string
	err := s.db.QueryRow(`SELECT value, updated_at FROM entries WHERE name = ?`, name).Scan(&data, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get %s: %w", name, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", name, err)
	}
	updated, _ := time.Parse(time.RFC3339Nano, stamp)
	return updated, nil
}

// Delete removes name. Deleting a missing entry is not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.Exec(`DELETE FROM entries WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Close closes the database. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
