// Package cache persists scan results keyed by a fingerprint of the scan
// parameters, together with per-item download outcomes and fetch run history.
package cache

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrStorage is matched by StorageError via errors.Is.
var ErrStorage = errors.New("cache storage error")

// StorageError reports a failure of the underlying persistence.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// ResultCache is a SQLite-backed store for scan results and fetch outcomes.
// It is safe for concurrent use; writes for one fingerprint are serialized
// while different fingerprints proceed independently.
type ResultCache struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	locks  *keyLock
}

// Open creates or reopens the cache database at path and applies migrations.
func Open(path string, logger *slog.Logger) (*ResultCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr("open", fmt.Errorf("create cache dir %s: %w", dir, err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("open sqlite %q: %w", path, err))
	}

	// Single writer prevents SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, storageErr("open", fmt.Errorf("pragma %q: %w", p, err))
		}
	}

	c := &ResultCache{
		db:     db,
		path:   path,
		logger: logger,
		locks:  newKeyLock(),
	}

	if err := c.migrate(); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	logger.Debug("result cache opened", "path", path)
	return c, nil
}

// migrate applies all pending goose migrations from the embedded FS.
func (c *ResultCache) migrate() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(c.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (c *ResultCache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *ResultCache) Close() error {
	if err := c.db.Close(); err != nil {
		return storageErr("close", err)
	}
	return nil
}

// keyLock hands out one mutex per key, dropping it once nobody holds it.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyLock) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
