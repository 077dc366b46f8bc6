package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/security"
)

// ConversationService serves history retrieval for clients opening a chat.
type ConversationService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	encryptor     *security.Encryptor
	log           *zap.Logger

	// HistoryLimit matches the prune cap; zero lists everything.
	HistoryLimit int
}

func NewConversationService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	encryptor *security.Encryptor,
	historyLimit int,
	log *zap.Logger,
) *ConversationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		encryptor:     encryptor,
		log:           log,
		HistoryLimit:  historyLimit,
	}
}

// History returns the messages exchanged between userID and counterpartID in
// creation order. No conversation yet means an empty history, not an error.
func (s *ConversationService) History(ctx context.Context, userID, counterpartID string) ([]*domain.Message, error) {
	if userID == "" || counterpartID == "" {
		return nil, fmt.Errorf("%w: both identities are required", domain.ErrInvalidInput)
	}
	conv, err := s.conversations.Find(ctx, userID, counterpartID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceUnavailable, err)
	}
	if conv == nil {
		return []*domain.Message{}, nil
	}
	return s.ListMessages(ctx, conv.ID)
}

// ListMessages returns every retained message of the conversation, oldest first.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID int64) ([]*domain.Message, error) {
	msgs, err := s.messages.ListForConversation(ctx, conversationID, s.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceUnavailable, err)
	}

	// Reverse to chronological order (DB returns DESC)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	for _, m := range msgs {
		m.Text = s.decrypt(m)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceUnavailable, err)
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	return convs, nil
}

func (s *ConversationService) decrypt(m *domain.Message) string {
	plain, err := s.encryptor.Decrypt(m.Text)
	if err != nil {
		// rows written before encryption was enabled come back as-is
		s.log.Debug("decrypt message", zap.Int64("message_id", m.ID), zap.Error(err))
		return m.Text
	}
	return plain
}
