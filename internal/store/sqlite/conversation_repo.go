package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
)

type ConversationRepo struct {
	db    *sql.DB
	nowFn func() time.Time
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db, nowFn: time.Now}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, user_a, user_b, created_at, last_message_at`

func (r *ConversationRepo) Find(ctx context.Context, x, y string) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?)
		ORDER BY id ASC
		LIMIT 1
	`
	c, err := scanConversation(r.db.QueryRowContext(ctx, query, x, y, y, x))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) Create(ctx context.Context, x, y string) (*domain.Conversation, error) {
	now := r.nowFn().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (user_a, user_b, created_at, last_message_at)
		VALUES (?, ?, ?, ?)
	`, x, y, now, now)
	if err != nil {
		return nil, mapInsertErr("insert conversation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &domain.Conversation{
		ID:            id,
		UserA:         x,
		UserB:         y,
		CreatedAt:     now,
		LastMessageAt: now,
	}, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_a = ? OR user_b = ?
		ORDER BY last_message_at DESC, id DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	if err := row.Scan(
		&c.ID,
		&c.UserA,
		&c.UserB,
		&c.CreatedAt,
		&c.LastMessageAt,
	); err != nil {
		return nil, err
	}
	return c, nil
}
