package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spacebot-ai/spacebot/internal/ids"
)

// ChannelTurns persists ChatTurns to the channel_turns table, giving a
// Channel's in-memory History durability across restarts.
type ChannelTurns struct {
	db *sql.DB
}

// NewChannelTurns wraps a *sql.DB as a turn-persistence backend.
func NewChannelTurns(db *sql.DB) *ChannelTurns {
	return &ChannelTurns{db: db}
}

// EnsureChannel upserts the channel row, returning its id.
func (c *ChannelTurns) EnsureChannel(ctx context.Context, id ids.ChannelId, platform, scope string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO channels(id, platform, scope) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		string(id), platform, scope,
	)
	if err != nil {
		return fmt.Errorf("ensure channel %s: %w", id, err)
	}
	return nil
}

// AppendTurn persists one turn at the next sequence number for channel.
func (c *ChannelTurns) AppendTurn(ctx context.Context, channel ids.ChannelId, kind, content, metadata string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO channel_turns(channel_id, seq, kind, content, metadata)
		 VALUES (?, COALESCE((SELECT MAX(seq) + 1 FROM channel_turns WHERE channel_id = ?), 0), ?, ?, ?)`,
		string(channel), string(channel), kind, content, metadata,
	)
	if err != nil {
		return fmt.Errorf("append turn for channel %s: %w", channel, err)
	}
	return nil
}

// LoadTurns returns every persisted turn for channel in sequence order.
func (c *ChannelTurns) LoadTurns(ctx context.Context, channel ids.ChannelId) ([]PersistedTurn, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT kind, content, metadata, created_at FROM channel_turns WHERE channel_id = ? ORDER BY seq ASC`,
		string(channel),
	)
	if err != nil {
		return nil, fmt.Errorf("load turns for channel %s: %w", channel, err)
	}
	defer rows.Close()

	var turns []PersistedTurn
	for rows.Next() {
		var t PersistedTurn
		var metadata sql.NullString
		if err := rows.Scan(&t.Kind, &t.Content, &metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Metadata = metadata.String
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// PersistedTurn is one row of the channel_turns table.
type PersistedTurn struct {
	Kind      string
	Content   string
	Metadata  string
	CreatedAt string
}
