package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spacebot-ai/spacebot/internal/ids"
)

// SeenInbound implements channel.SeenInboundStore over the seen_inbound
// table, resolving §9's "Open question — duplicate inbound idempotency
// key" by persisting accepted inbound ids per Channel.
type SeenInbound struct {
	db *sql.DB
}

// NewSeenInbound wraps a *sql.DB (typically Store.DB()) as a
// channel.SeenInboundStore.
func NewSeenInbound(db *sql.DB) *SeenInbound {
	return &SeenInbound{db: db}
}

// HasSeen reports whether inboundID has already been accepted for channel.
func (s *SeenInbound) HasSeen(ctx context.Context, channel ids.ChannelId, inboundID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_inbound WHERE channel_id = ? AND inbound_id = ?`,
		string(channel), inboundID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check seen inbound: %w", err)
	}
	return true, nil
}

// MarkSeen records inboundID as accepted for channel. It is safe to call
// twice for the same id; the second call is a no-op.
func (s *SeenInbound) MarkSeen(ctx context.Context, channel ids.ChannelId, inboundID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_inbound(channel_id, inbound_id) VALUES (?, ?)`,
		string(channel), inboundID,
	)
	if err != nil {
		return fmt.Errorf("mark seen inbound: %w", err)
	}
	return nil
}
