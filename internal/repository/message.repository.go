package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/pg"
)

var (
	// ErrMessageNotFound is returned when a message does not exist.
	ErrMessageNotFound = errors.New("message not found")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

// FindByDedupKey looks up a message within a conversation by its idempotency
// key: the bridge wam_id for bridge-originated records, the CRM message id
// otherwise.
func (r *MessageRepository) FindByDedupKey(ctx context.Context, conversationID, key string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("(wam_id != '' AND wam_id = ?) OR (crm_message_id != '' AND crm_message_id = ?)", key, key).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// Get resolves a message by local or remote-CRM id, scoped to the tenant
// through its conversation.
func (r *MessageRepository) Get(ctx context.Context, locationID, id string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.location_id = ?", locationID).
		Where("messages.id = ? OR messages.crm_message_id = ?", id, id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var entities []*MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

// UpdateDeliveryConfirmation replaces the bridge id and status of an existing
// row. Resend is an update, not an append: the original row keeps the
// history, only the confirmation id changes.
func (r *MessageRepository) UpdateDeliveryConfirmation(ctx context.Context, id, wamID string, status model.MessageStatus) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&MessageEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"wam_id": wamID,
			"status": string(status),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}
