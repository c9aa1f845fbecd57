// Package store persists encoded programs in SQLite, addressed by the hex
// SHA-256 of their bytes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/kestrel/vm/dist"
)

var log = commonlog.GetLogger("kestrel.store")

// ErrProgramNotFound indicates the requested program doesn't exist.
var ErrProgramNotFound = errors.New("program not found")

// Entry describes a stored program.
type Entry struct {
	Hash    string
	Name    string
	Size    int
	Created time.Time
}

// Store handles SQLite storage for programs.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash    TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		data    BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened program store %s", path)
	return &Store{db: db, path: path}, nil
}

// DefaultPath returns $KESTREL_STORE, or ~/.kestrel/programs.db.
func DefaultPath() (string, error) {
	if p := os.Getenv("KESTREL_STORE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".kestrel", "programs.db"), nil
}

// Path returns the database file the store was opened on.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores data under its content hash and returns the hash. Storing the
// same bytes again keeps the first name.
func (s *Store) Put(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := dist.HashString(dist.HashProgram(data))
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO programs (hash, name, data, created) VALUES (?, ?, ?, ?)",
		hash, name, data, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("saving program: %w", err)
	}
	log.Debugf("stored %s (%s, %d bytes)", hash, name, len(data))
	return hash, nil
}

// Get returns the program bytes stored under hash.
func (s *Store) Get(hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM programs WHERE hash = ?", hash).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, hash)
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	return data, nil
}

// Has reports whether a program is stored under hash.
func (s *Store) Has(hash string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM programs WHERE hash = ?", hash).Scan(&n); err != nil {
		return false, fmt.Errorf("querying program: %w", err)
	}
	return n > 0, nil
}

// Delete removes a stored program.
func (s *Store) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM programs WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, hash)
	}
	return nil
}

// List returns every stored program, oldest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT hash, name, length(data), created FROM programs ORDER BY created, hash")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Hash, &e.Name, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		e.Created = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
