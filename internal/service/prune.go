package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/queue"
)

// PruneTaskType is the queue task name for trimming a conversation's history.
const PruneTaskType = "dm:prune_conversation"

// PruneQueue is the asynq queue prune tasks are enqueued on.
const PruneQueue = "maintenance"

type pruneTaskPayload struct {
	ConversationID int64 `json:"conversationId"`
	Keep           int   `json:"keep"`
}

// InlinePruner prunes synchronously on the routing goroutine.
type InlinePruner struct {
	messages domain.MessageRepository
	keep     int
	log      *zap.Logger
}

func NewInlinePruner(messages domain.MessageRepository, keep int, log *zap.Logger) *InlinePruner {
	return &InlinePruner{messages: messages, keep: keep, log: log}
}

func (p *InlinePruner) SchedulePrune(ctx context.Context, conversationID int64) {
	if p.keep <= 0 {
		return
	}
	if err := p.messages.PruneOld(ctx, conversationID, p.keep); err != nil {
		p.log.Warn("prune conversation", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
}

// QueuedPruner hands pruning to the background worker.
type QueuedPruner struct {
	queue queue.Enqueuer
	keep  int
	log   *zap.Logger
}

func NewQueuedPruner(q queue.Enqueuer, keep int, log *zap.Logger) *QueuedPruner {
	return &QueuedPruner{queue: q, keep: keep, log: log}
}

func (p *QueuedPruner) SchedulePrune(ctx context.Context, conversationID int64) {
	if p.keep <= 0 {
		return
	}
	payload, err := json.Marshal(pruneTaskPayload{ConversationID: conversationID, Keep: p.keep})
	if err != nil {
		p.log.Error("encode prune task", zap.Error(err))
		return
	}
	// A burst of sends to one conversation collapses into a single prune.
	if _, err := p.queue.Enqueue(ctx, queue.Task{Type: PruneTaskType, Payload: payload}, queue.EnqueueOption{
		Queue:     PruneQueue,
		ProcessIn: 5 * time.Second,
		MaxRetry:  3,
		UniqueTTL: 30 * time.Second,
	}); err != nil {
		p.log.Warn("enqueue prune task", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
}

// TaskRegistrar is the worker side of the queue.
type TaskRegistrar interface {
	Register(taskType string, h queue.Handler)
}

// RegisterPruneTask binds the prune handler to the worker.
func RegisterPruneTask(srv TaskRegistrar, messages domain.MessageRepository) {
	srv.Register(PruneTaskType, PruneHandler(messages))
}

// PruneHandler decodes a prune task and trims the conversation.
func PruneHandler(messages domain.MessageRepository) queue.Handler {
	return func(ctx context.Context, t queue.Task) error {
		var p pruneTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("decode prune payload: %w", err)
		}
		if p.ConversationID == 0 || p.Keep <= 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return messages.PruneOld(ctx, p.ConversationID, p.Keep)
	}
}
