package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
)

// ErrNotFound is returned when a Memory id does not exist.
var ErrNotFound = errors.New("memory: not found")

// Repository persists Memory and Association records to the relational
// store, grounded on the original implementation's MemoryStore semantics
// (soft-delete via forgotten flag, idempotent forget, upsert associations).
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a *sql.DB for memory persistence.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts a new Memory record, including its embedding and an FTS
// index row, atomically with respect to the caller (§4.8 invariants: a
// Memory and its embedding row are inserted together).
func (r *Repository) Save(ctx context.Context, m *Memory) error {
	m.ClampImportance()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt
	m.LastAccessedAt = m.CreatedAt

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, content, kind, importance, created_at, updated_at, last_accessed_at, access_count, source_channel, user_association, forgotten, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0, ?)
	`, string(m.ID), m.Content, string(m.Kind), m.Importance, m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.SourceChannel, m.UserAssociation, encodeEmbedding(m.Embedding))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(rowid, id, content) SELECT rowid, id, content FROM memories WHERE id = ?`, string(m.ID)); err != nil {
		logging.MemoryWarn("fts index insert failed for %s: %v", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	logging.MemoryDebug("saved memory %s kind=%s importance=%.2f", m.ID, m.Kind, m.Importance)
	return nil
}

// Load fetches one Memory by id, including forgotten ones.
func (r *Repository) Load(ctx context.Context, id ids.MemoryId) (*Memory, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, content, kind, importance, created_at, updated_at, last_accessed_at, access_count, source_channel, user_association, forgotten, embedding
		FROM memories WHERE id = ?
	`, string(id))
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// Update rewrites a Memory's mutable fields (content, importance).
func (r *Repository) Update(ctx context.Context, m *Memory) error {
	m.ClampImportance()
	m.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE memories SET content = ?, importance = ?, updated_at = ? WHERE id = ? AND forgotten = 0
	`, m.Content, m.Importance, m.UpdatedAt, string(m.ID))
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAccess bumps access_count and last_accessed_at, called on every
// recall hit (§9.1 supplemental feature).
func (r *Repository) RecordAccess(ctx context.Context, id ids.MemoryId) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ? AND forgotten = 0
	`, time.Now().UTC(), string(id))
	return err
}

// Forget soft-deletes a Memory. Idempotent: forgetting an already-forgotten
// memory returns false rather than erroring, matching the original's
// `AND forgotten = 0` guard.
func (r *Repository) Forget(ctx context.Context, id ids.MemoryId) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE memories SET forgotten = 1, updated_at = ? WHERE id = ? AND forgotten = 0
	`, time.Now().UTC(), string(id))
	if err != nil {
		return false, fmt.Errorf("forget memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CreateAssociation upserts a directed edge; re-saving the same
// (source, target, relation) triple updates its weight rather than
// duplicating the row.
func (r *Repository) CreateAssociation(ctx context.Context, a Association) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO associations (source_id, target_id, relation, weight, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO UPDATE SET weight = excluded.weight
	`, string(a.SourceID), string(a.TargetID), string(a.Relation), a.Weight, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create association: %w", err)
	}
	return nil
}

// GetAssociations returns every edge touching memoryID in either direction.
func (r *Repository) GetAssociations(ctx context.Context, memoryID ids.MemoryId) ([]Association, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation, weight, created_at FROM associations
		WHERE source_id = ? OR target_id = ?
	`, string(memoryID), string(memoryID))
	if err != nil {
		return nil, fmt.Errorf("get associations: %w", err)
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var a Association
		var source, target, relation string
		if err := rows.Scan(&source, &target, &relation, &a.Weight, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		a.SourceID = ids.MemoryId(source)
		a.TargetID = ids.MemoryId(target)
		a.Relation = Relation(relation)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetByKind returns non-forgotten memories of a kind, ordered by
// importance then recency, capped at limit.
func (r *Repository) GetByKind(ctx context.Context, kind Kind, limit int) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, kind, importance, created_at, updated_at, last_accessed_at, access_count, source_channel, user_association, forgotten, embedding
		FROM memories WHERE kind = ? AND forgotten = 0
		ORDER BY importance DESC, updated_at DESC LIMIT ?
	`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("get by kind: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetHighImportance returns non-forgotten memories at or above threshold.
func (r *Repository) GetHighImportance(ctx context.Context, threshold float64, limit int) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, kind, importance, created_at, updated_at, last_accessed_at, access_count, source_channel, user_association, forgotten, embedding
		FROM memories WHERE importance >= ? AND forgotten = 0
		ORDER BY importance DESC, updated_at DESC LIMIT ?
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("get high importance: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// AllNonForgotten returns every memory not soft-deleted, for maintenance
// sweeps and full-scan vector search fallback.
func (r *Repository) AllNonForgotten(ctx context.Context) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, kind, importance, created_at, updated_at, last_accessed_at, access_count, source_channel, user_association, forgotten, embedding
		FROM memories WHERE forgotten = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SearchVector ranks non-forgotten memories by cosine distance to query
// using the vector_distance_cos SQL function registered in
// internal/store's vec0 compat layer, so ranking happens in sqlite rather
// than after pulling every embedding into Go. Pipeline.Recall falls back
// to a Go-side scan (vectorRank over AllNonForgotten) if this errors,
// since a stock sqlite build without the scalar function registered
// would otherwise break recall outright.
func (r *Repository) SearchVector(ctx context.Context, query []float32, limit int) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, content, kind, importance, created_at, updated_at, last_accessed_at, access_count, source_channel, user_association, forgotten, embedding
		FROM memories
		WHERE forgotten = 0 AND embedding IS NOT NULL
		ORDER BY vector_distance_cos(embedding, ?) ASC
		LIMIT ?
	`, encodeEmbedding(query), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SearchFullText runs an FTS5 match query over memory content.
func (r *Repository) SearchFullText(ctx context.Context, query string, limit int) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.kind, m.importance, m.created_at, m.updated_at, m.last_accessed_at, m.access_count, m.source_channel, m.user_association, m.forgotten, m.embedding
		FROM memories_fts f JOIN memories m ON m.id = f.id
		WHERE f.content MATCH ? AND m.forgotten = 0
		ORDER BY rank LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	return scanMemoryRow(row)
}

func scanMemoryRow(row rowScanner) (*Memory, error) {
	var m Memory
	var id, kind, source, userAssoc sql.NullString
	var forgotten int
	var embedding []byte
	if err := row.Scan(&id, &m.Content, &kind, &m.Importance, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &m.AccessCount, &source, &userAssoc, &forgotten, &embedding); err != nil {
		return nil, err
	}
	m.ID = ids.MemoryId(id.String)
	m.Kind = Kind(kind.String)
	m.SourceChannel = source.String
	m.UserAssociation = userAssoc.String
	m.Forgotten = forgotten != 0
	m.Embedding = decodeEmbedding(embedding)
	return &m, nil
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
