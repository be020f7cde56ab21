package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/estio/conversations-gateway/internal/events"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/internal/repository"
	"github.com/estio/conversations-gateway/pkg/logger"
)

// SyncStatus reports what the normalize/store primitive did with a record.
type SyncStatus string

const (
	StatusStored  SyncStatus = "stored"
	StatusSkipped SyncStatus = "skipped"
)

type SyncResult struct {
	Status    SyncStatus
	MessageID string
}

type SyncMessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	FindByDedupKey(ctx context.Context, conversationID, key string) (*model.Message, error)
}

type SyncConversationRepository interface {
	ApplyLastMessage(ctx context.Context, upd model.LastMessageUpdate) error
}

// SyncService is the normalize-and-store primitive shared by every ingest
// path: outbound legacy-gateway sends, CRM-path sends, webhook ingest and
// history backfill. It is idempotent per (conversation, dedup key); no lock
// protects concurrent writers, the upsert itself is the correctness boundary.
type SyncService struct {
	messages      SyncMessageRepository
	conversations SyncConversationRepository
	publisher     events.Publisher
}

func NewSyncService(messages SyncMessageRepository, conversations SyncConversationRepository, publisher events.Publisher) *SyncService {
	return &SyncService{
		messages:      messages,
		conversations: conversations,
		publisher:     publisher,
	}
}

// ProcessNormalizedMessage upserts one normalized record. A record whose
// dedup key already exists in the conversation returns StatusSkipped with the
// existing row id and writes nothing.
func (s *SyncService) ProcessNormalizedMessage(ctx context.Context, rec model.NormalizedMessage) (SyncResult, error) {
	if err := rec.Validate(); err != nil {
		return SyncResult{}, err
	}

	existing, err := s.messages.FindByDedupKey(ctx, rec.ConversationID, rec.DedupKey())
	if err == nil {
		return SyncResult{Status: StatusSkipped, MessageID: existing.ID}, nil
	}
	if !errors.Is(err, repository.ErrMessageNotFound) {
		return SyncResult{}, fmt.Errorf("dedup lookup: %w", err)
	}

	status := model.MessageStatusSent
	if rec.Direction == model.DirectionInbound {
		status = model.MessageStatusReceived
	}

	msg, err := s.messages.Create(ctx, &model.Message{
		ConversationID: rec.ConversationID,
		CRMMessageID:   rec.CRMMessageID,
		WamID:          rec.WamID,
		Body:           rec.Body,
		Type:           rec.Type,
		Direction:      rec.Direction,
		Status:         status,
		Subject:        rec.Subject,
		EmailFrom:      rec.From,
		EmailTo:        rec.To,
		Source:         rec.Source,
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("create message: %w", err)
	}

	if err := s.conversations.ApplyLastMessage(ctx, model.LastMessageUpdate{
		ConversationID: rec.ConversationID,
		MessageBody:    rec.Body,
		MessageType:    string(rec.Type),
		MessageDate:    rec.Timestamp,
		Direction:      rec.Direction,
	}); err != nil {
		logger.Warn("failed to apply last-message snapshot", "conversation_id", rec.ConversationID, "error", err)
	}

	if rec.Direction == model.DirectionInbound {
		if err := s.publisher.Publish(ctx, events.KeyMessageReceived, events.Envelope{
			Meta: events.Meta{LocationID: rec.LocationID},
			Data: msg,
		}); err != nil {
			logger.Warn("failed to publish message.received", "message_id", msg.ID, "error", err)
		}
	}

	return SyncResult{Status: StatusStored, MessageID: msg.ID}, nil
}
