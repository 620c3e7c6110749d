// Package store provides the kernel's persistence layer: a relational store,
// a vector store, and a full-text index, backed by a single pure-Go sqlite
// database. The vec0 virtual table emulation in vec_compat.go makes vector
// search available without a cgo dependency.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/spacebot-ai/spacebot/internal/logging"
)

// Store is the kernel's single sqlite-backed persistence handle. It
// satisfies the RelationalStore, VectorStore, FullTextIndex, and
// KeyValueStore contracts required by §6 of the specification from one
// physical database file, matching the teacher's default build path.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	vecExt bool
}

// VectorIndexAvailable reports whether the vec0 compat layer registered
// cleanly against this build of modernc.org/sqlite. kernel.New checks it
// only to log a warning; the Memory Pipeline does not consult it and
// instead falls back to a full scan when the SQL vector query fails.
func (s *Store) VectorIndexAvailable() bool {
	return s.vecExt
}

// Open creates or opens the sqlite database at path, applies PRAGMA tuning,
// runs schema migrations, and detects vec0 availability.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma %q failed: %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s.detectVecExtension()
	if s.vecExt {
		logging.Store("vec0 virtual table available (pure-Go emulation)")
	} else {
		logging.Get(logging.CategoryStore).Warn("vec0 virtual table unavailable; vector search degrades to full scan")
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	logging.Store("closing store at %s", s.path)
	return s.db.Close()
}

// DB exposes the underlying connection for components (e.g. the channel
// history writer) that need direct SQL access within the store's contract.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
		s.vecExt = false
		return
	}
	_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	s.vecExt = true
}

// Stats returns row counts for the kernel's primary tables.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"memories", "associations", "channel_turns", "channels", "settings"} {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
