package ws

import "github.com/gogagureshidze/goga-network-sub001/internal/domain"

// Frame type discriminators.
const (
	TypeRegister       = "register"
	TypeSendMessage    = "send_message"
	TypeRegistered     = "registered"
	TypeReceiveMessage = "receive_message"
	TypeError          = "error"
)

// InboundFrame is any client->server frame; unused fields stay empty.
type InboundFrame struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Text       string `json:"text,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	ClientRef  string `json:"client_ref,omitempty"`
}

type RegisteredFrame struct {
	Type         string `json:"type"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

type ReceiveMessageFrame struct {
	Type      string          `json:"type"`
	Message   *domain.Message `json:"message"`
	ClientRef string          `json:"client_ref,omitempty"`
}

type ErrorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ClientRef string `json:"client_ref,omitempty"`
}
