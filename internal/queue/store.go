package queue

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/codefionn/eventsock/internal/lockfile"

	_ "github.com/mattn/go-sqlite3"
)

// FileStore keeps the snapshot in a single file. Writes go through a
// temporary file and rename, and the file is locked to this process for the
// store's lifetime.
type FileStore struct {
	path string
	lock *lockfile.Lockfile
}

// NewFileStore opens a file-backed store at path. It fails with
// lockfile.ErrLocked when another running process owns path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	lock := lockfile.For(path)
	if err := lock.TryAcquire(); err != nil {
		return nil, fmt.Errorf("queue %s: %w", path, err)
	}
	return &FileStore{path: path, lock: lock}, nil
}

// Path returns the snapshot file path
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Write(data []byte) error {
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *FileStore) Read() ([]byte, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	return s.lock.Release()
}

// SQLiteStore keeps snapshots in a SQLite table keyed by queue name, so
// several queues can share one database file.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and uses
// the row called name.
func NewSQLiteStore(dbPath, name string) (*SQLiteStore, error) {
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS request_queue (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, name: name}, nil
}

func (s *SQLiteStore) Write(data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO request_queue (name, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.name, data)
	return err
}

func (s *SQLiteStore) Read() ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM request_queue WHERE name = ?`, s.name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *SQLiteStore) Delete() error {
	_, err := s.db.Exec(`DELETE FROM request_queue WHERE name = ?`, s.name)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	found bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.found = true
	return nil
}

func (s *MemoryStore) Read() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.found {
		return nil, false, nil
	}
	return append([]byte(nil), s.data...), true, nil
}

func (s *MemoryStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.found = false
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
