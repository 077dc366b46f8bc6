package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Append(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO messages
			(conversation_id, sender_id, receiver_id, text, media_url, media_type, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), FALSE)
		RETURNING id, created_at, is_read
	`, m.ConversationID, m.SenderID, m.ReceiverID, m.Text, m.MediaURL, m.MediaType,
	).Scan(&m.ID, &m.CreatedAt, &m.IsRead); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $1 WHERE id = $2
	`, m.CreatedAt, m.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID int64, limit int) ([]*domain.Message, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	// LIMIT NULL is no limit
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, text, media_url, media_type, created_at, is_read
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, conversationID, lim)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return r.scanMessages(rows)
}

func (r *MessageRepo) PruneOld(ctx context.Context, conversationID int64, keepLimit int) error {
	if keepLimit <= 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id = $1
		  AND id NOT IN (
			  SELECT id FROM messages
			  WHERE conversation_id = $1
			  ORDER BY id DESC
			  LIMIT $2
		  )
	`, conversationID, keepLimit); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (r *MessageRepo) scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Text,
			&m.MediaURL, &m.MediaType, &m.CreatedAt, &m.IsRead,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
