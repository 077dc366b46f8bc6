package domain

import (
	"context"
)

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// Find returns the conversation between x and y in either order, or nil.
	Find(ctx context.Context, x, y string) (*Conversation, error)
	// Create inserts a new conversation. A duplicate pair yields ErrConflict.
	Create(ctx context.Context, x, y string) (*Conversation, error)
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Append stores m and fills in the server-assigned ID and CreatedAt.
	Append(ctx context.Context, m *Message) error
	// ListForConversation returns the newest messages first, at most limit.
	ListForConversation(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
	PruneOld(ctx context.Context, conversationID int64, keepLimit int) error
}
