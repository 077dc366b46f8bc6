package domain

import "time"

// Conversation is the unordered pairing of two user identities.
// UserA and UserB are stored in first-contact order; lookups never depend on it.
type Conversation struct {
	ID            int64     `db:"id" json:"id"`
	UserA         string    `db:"user_a" json:"user_a"`
	UserB         string    `db:"user_b" json:"user_b"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
}

// Counterpart returns the identity on the other side of the conversation.
func (c *Conversation) Counterpart(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// Includes reports whether userID is one of the two parties.
func (c *Conversation) Includes(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// Message represents a single directed chat message.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	ReceiverID     string    `db:"receiver_id" json:"receiver_id"`
	Text           string    `db:"text" json:"text,omitempty"` // encrypted at rest
	MediaURL       *string   `db:"media_url" json:"media_url,omitempty"`
	MediaType      *string   `db:"media_type" json:"media_type,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	IsRead         bool      `db:"is_read" json:"is_read"`
}

// Counterpart returns the identity that is not userID.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
