package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Settings implements a small KeyValueStore over the settings table
// (§6's KeyValueStore contract), used for agent-level configuration that
// outlives a process restart but doesn't warrant its own table.
type Settings struct {
	db *sql.DB
}

// NewSettings wraps a *sql.DB as a KeyValueStore.
func NewSettings(db *sql.DB) *Settings {
	return &Settings{db: db}
}

// Get returns the value for key, and whether it was present.
func (s *Settings) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key to value.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Delete removes key, if present.
func (s *Settings) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}
