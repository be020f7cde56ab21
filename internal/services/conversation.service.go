package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/estio/conversations-gateway/internal/events"
	"github.com/estio/conversations-gateway/internal/lifecycle"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/logger"
)

var (
	ErrNoConversationIDs = errors.New("no conversation ids given")
	ErrInvalidTransition = errors.New("conversations cannot make this transition")
)

type ConversationStore interface {
	Get(ctx context.Context, locationID, id string) (*model.Conversation, error)
	List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error)
	States(ctx context.Context, locationID string, ids []string) (map[string]model.LifecycleState, error)
	MarkRead(ctx context.Context, locationID, conversationID string) error
	Archive(ctx context.Context, locationID string, ids []string) (int64, error)
	Unarchive(ctx context.Context, locationID string, ids []string) (int64, error)
	SoftDelete(ctx context.Context, locationID string, ids []string, deletedBy string) (int64, error)
	Restore(ctx context.Context, locationID string, ids []string) (int64, error)
	PermanentlyDelete(ctx context.Context, locationID string, ids []string) (int64, error)
	EmptyTrash(ctx context.Context, locationID string) (int64, error)
}

type ConversationMessageLister interface {
	ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error)
}

// ConversationService exposes the lifecycle bulk operations and the read
// endpoints. Every bulk transition is checked against the lifecycle machine
// first, so a request whose ids are all ineligible is rejected with an error
// instead of silently matching zero rows; ineligible ids within a mixed
// request are dropped and the SQL precondition remains the final guard.
type ConversationService struct {
	conversations ConversationStore
	messages      ConversationMessageLister
	publisher     events.Publisher
}

func NewConversationService(conversations ConversationStore, messages ConversationMessageLister, publisher events.Publisher) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
	}
}

func (s *ConversationService) List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error) {
	return s.conversations.List(ctx, f)
}

func (s *ConversationService) Get(ctx context.Context, locationID, id string) (*model.Conversation, error) {
	return s.conversations.Get(ctx, locationID, id)
}

// ListMessages returns the messages of one conversation oldest-first and
// clears its unread counter.
func (s *ConversationService) ListMessages(ctx context.Context, locationID, conversationID string) ([]*model.Message, error) {
	conv, err := s.conversations.Get(ctx, locationID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.MarkRead(ctx, locationID, conv.ID); err != nil {
		logger.Warn("failed to clear unread counter", "conversation_id", conv.ID, "error", err)
	}
	return msgs, nil
}

func (s *ConversationService) Archive(ctx context.Context, locationID string, ids []string) (int64, error) {
	eligible, err := s.eligibleIDs(ctx, locationID, ids, lifecycle.TriggerArchive)
	if err != nil {
		return 0, err
	}
	count, err := s.conversations.Archive(ctx, locationID, eligible)
	if err != nil {
		return 0, err
	}
	s.publishLifecycle(ctx, events.KeyConversationArchived, locationID, eligible)
	return count, nil
}

func (s *ConversationService) Unarchive(ctx context.Context, locationID string, ids []string) (int64, error) {
	eligible, err := s.eligibleIDs(ctx, locationID, ids, lifecycle.TriggerUnarchive)
	if err != nil {
		return 0, err
	}
	return s.conversations.Unarchive(ctx, locationID, eligible)
}

func (s *ConversationService) Delete(ctx context.Context, locationID string, ids []string, deletedBy string) (int64, error) {
	eligible, err := s.eligibleIDs(ctx, locationID, ids, lifecycle.TriggerDelete)
	if err != nil {
		return 0, err
	}
	count, err := s.conversations.SoftDelete(ctx, locationID, eligible, deletedBy)
	if err != nil {
		return 0, err
	}
	s.publishLifecycle(ctx, events.KeyConversationDeleted, locationID, eligible)
	return count, nil
}

func (s *ConversationService) Restore(ctx context.Context, locationID string, ids []string) (int64, error) {
	eligible, err := s.eligibleIDs(ctx, locationID, ids, lifecycle.TriggerRestore)
	if err != nil {
		return 0, err
	}
	return s.conversations.Restore(ctx, locationID, eligible)
}

func (s *ConversationService) Purge(ctx context.Context, locationID string, ids []string) (int64, error) {
	eligible, err := s.eligibleIDs(ctx, locationID, ids, lifecycle.TriggerPurge)
	if err != nil {
		return 0, err
	}
	return s.conversations.PermanentlyDelete(ctx, locationID, eligible)
}

func (s *ConversationService) EmptyTrash(ctx context.Context, locationID string) (int64, error) {
	return s.conversations.EmptyTrash(ctx, locationID)
}

// eligibleIDs filters the requested ids down to those whose current state
// permits the trigger. All-ineligible requests fail; unknown ids fall through
// to the repository precondition, which matches nothing for them.
func (s *ConversationService) eligibleIDs(ctx context.Context, locationID string, ids []string, trigger lifecycle.Trigger) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrNoConversationIDs
	}

	states, err := s.conversations.States(ctx, locationID, ids)
	if err != nil {
		return nil, err
	}

	eligible := make([]string, 0, len(ids))
	for _, id := range ids {
		state, ok := states[id]
		if !ok {
			continue
		}
		if lifecycle.CanTransition(state, trigger) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, trigger)
	}
	return eligible, nil
}

func (s *ConversationService) publishLifecycle(ctx context.Context, key, locationID string, ids []string) {
	err := s.publisher.Publish(ctx, key, events.Envelope{
		Meta: events.Meta{LocationID: locationID},
		Data: map[string]interface{}{"conversation_ids": ids},
	})
	if err != nil {
		logger.Warn("failed to publish lifecycle event", "key", key, "error", err)
	}
}
