package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// Find looks the pair up through the same LEAST/GREATEST expression the unique index uses.
func (r *ConversationRepo) Find(ctx context.Context, x, y string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_a, user_b, created_at, last_message_at
		FROM conversations
		WHERE LEAST(user_a, user_b) = LEAST($1::text, $2::text)
		  AND GREATEST(user_a, user_b) = GREATEST($1::text, $2::text)
		ORDER BY id ASC
		LIMIT 1
	`, x, y).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt, &c.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) Create(ctx context.Context, x, y string) (*domain.Conversation, error) {
	c := &domain.Conversation{UserA: x, UserB: y}
	if err := r.db.QueryRowContext(ctx, `
		INSERT INTO conversations (user_a, user_b, created_at, last_message_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, created_at, last_message_at
	`, x, y).Scan(&c.ID, &c.CreatedAt, &c.LastMessageAt); err != nil {
		return nil, mapInsertErr("insert conversation", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_a, user_b, created_at, last_message_at
		FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt, &c.LastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_a, user_b, created_at, last_message_at
		FROM conversations
		WHERE user_a = $1 OR user_b = $1
		ORDER BY last_message_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
