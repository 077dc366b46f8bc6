package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/presence"
	"github.com/gogagureshidze/goga-network-sub001/internal/security"
)

const maxTextRunes = 5000

// Deliverer pushes a canonical message to one live connection.
type Deliverer interface {
	DeliverMessage(ctx context.Context, connID string, m *domain.Message, clientRef string) error
}

// Pruner trims old messages once a conversation has grown past its cap.
type Pruner interface {
	SchedulePrune(ctx context.Context, conversationID int64)
}

// SendInput is a validated-on-entry send request.
type SendInput struct {
	SenderID   string
	ReceiverID string
	Text       string
	MediaURL   *string
	MediaType  *string
	// ClientRef is the sender's provisional id; it is echoed back, never stored.
	ClientRef string
}

// RouteResult reports what happened after the durability point.
type RouteResult struct {
	Message   *domain.Message
	Delivered bool // the recipient had a live connection and the push succeeded
}

// MessageRouter persists a message, then fans it out to the recipient (if online)
// and back to the sending connection.
type MessageRouter struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	presence      presence.Registry
	deliver       Deliverer
	encryptor     *security.Encryptor
	pruner        Pruner
	log           *zap.Logger
}

func NewMessageRouter(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	registry presence.Registry,
	deliver Deliverer,
	encryptor *security.Encryptor,
	pruner Pruner,
	log *zap.Logger,
) *MessageRouter {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageRouter{
		conversations: conversations,
		messages:      messages,
		presence:      registry,
		deliver:       deliver,
		encryptor:     encryptor,
		pruner:        pruner,
		log:           log,
	}
}

func validateSend(in SendInput) error {
	if in.SenderID == "" || in.ReceiverID == "" {
		return fmt.Errorf("%w: sender_id and receiver_id are required", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(in.Text) > maxTextRunes {
		return fmt.Errorf("%w: message text exceeds %d characters", domain.ErrInvalidInput, maxTextRunes)
	}
	return nil
}

// Route runs a send request to completion. senderConnID is the connection the
// request arrived on; it always receives the echo when persistence succeeds.
// An empty senderConnID (a send made over plain HTTP) skips the echo.
func (r *MessageRouter) Route(ctx context.Context, senderConnID string, in SendInput) (*RouteResult, error) {
	if err := validateSend(in); err != nil {
		return nil, err
	}

	conv, err := r.resolveConversation(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceUnavailable, err)
	}

	sealed, err := r.encryptor.Encrypt(in.Text)
	if err != nil {
		return nil, fmt.Errorf("encrypt text: %w", err)
	}
	stored := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Text:           sealed,
		MediaURL:       nonEmpty(in.MediaURL),
		MediaType:      nonEmpty(in.MediaType),
	}
	if err := r.messages.Append(ctx, stored); err != nil {
		return nil, fmt.Errorf("%w: append message: %v", domain.ErrPersistenceUnavailable, err)
	}

	canonical := *stored
	canonical.Text = in.Text
	res := &RouteResult{Message: &canonical}

	recipientConn, online, err := r.presence.Resolve(ctx, in.ReceiverID)
	if err != nil {
		r.log.Warn("resolve recipient", zap.String("receiver", in.ReceiverID), zap.Error(err))
	}
	if online && recipientConn != senderConnID {
		if err := r.deliver.DeliverMessage(ctx, recipientConn, &canonical, ""); err != nil {
			r.log.Debug("recipient delivery skipped",
				zap.String("receiver", in.ReceiverID),
				zap.String("conn", recipientConn),
				zap.Error(err))
		} else {
			res.Delivered = true
		}
	}

	if senderConnID != "" {
		if err := r.deliver.DeliverMessage(ctx, senderConnID, &canonical, in.ClientRef); err != nil {
			r.log.Debug("sender echo undeliverable", zap.String("conn", senderConnID), zap.Error(err))
		}
	}

	if r.pruner != nil {
		r.pruner.SchedulePrune(ctx, conv.ID)
	}
	return res, nil
}

// resolveConversation finds the pair's conversation or creates it. A concurrent
// first contact that loses the insert race picks up the winner's row.
func (r *MessageRouter) resolveConversation(ctx context.Context, x, y string) (*domain.Conversation, error) {
	conv, err := r.conversations.Find(ctx, x, y)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv, err = r.conversations.Create(ctx, x, y)
	if errors.Is(err, domain.ErrConflict) {
		conv, err = r.conversations.Find(ctx, x, y)
		if err == nil && conv == nil {
			err = errors.New("conversation vanished after conflict")
		}
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
