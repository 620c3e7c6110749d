package store

import (
	"database/sql"
	"fmt"

	"github.com/spacebot-ai/spacebot/internal/logging"
)

// CurrentSchemaVersion is the highest migration number this binary knows
// about. New migrations are appended; an existing migration is never
// mutated (per the kernel's migration-application contract).
const CurrentSchemaVersion = 1

// schemaStatements are the base tables created on a fresh database. They
// exist alongside (not instead of) the versioned migrations list below so
// that a brand-new database and a long-lived one converge on the same
// final schema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		scope TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(platform, scope)
	)`,
	`CREATE TABLE IF NOT EXISTS channel_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL REFERENCES channels(id),
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(channel_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channel_turns_channel ON channel_turns(channel_id)`,
	`CREATE TABLE IF NOT EXISTS seen_inbound (
		channel_id TEXT NOT NULL,
		inbound_id TEXT NOT NULL,
		seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(channel_id, inbound_id)
	)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		kind TEXT NOT NULL,
		importance REAL NOT NULL DEFAULT 0.5,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_accessed_at DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		source_channel TEXT,
		user_association TEXT,
		forgotten INTEGER NOT NULL DEFAULT 0,
		embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_forgotten ON memories(forgotten)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
	// FTS5 over memory content for the keyword-search leg of recall.
	`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		id UNINDEXED, content, content='memories', content_rowid='rowid'
	)`,
	`CREATE TABLE IF NOT EXISTS associations (
		source_id TEXT NOT NULL REFERENCES memories(id),
		target_id TEXT NOT NULL REFERENCES memories(id),
		relation TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1.0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(source_id, target_id, relation)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_associations_source ON associations(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_associations_target ON associations(target_id)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// migration is one additive schema change applied to existing databases
// that predate it. Column additions only; never rewrite a prior entry.
type migration struct {
	version int
	stmt    string
}

// pendingMigrations is append-only. version 1 is folded into the base
// schemaStatements above since this is a new system with no legacy rows;
// future versions append here.
var pendingMigrations = []migration{}

// RunMigrations brings db up to CurrentSchemaVersion, applying base schema
// statements and then any pending migrations newer than the recorded
// version.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply base schema: %w", err)
		}
	}

	current := 0
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range pendingMigrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		current = m.version
	}

	if current == 0 {
		if _, err := db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("record initial schema version: %w", err)
		}
	}

	logging.StoreDebug("schema at version %d", CurrentSchemaVersion)
	return nil
}
