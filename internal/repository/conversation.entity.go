package repository

import (
	"time"

	"github.com/estio/conversations-gateway/internal/model"
)

type ConversationEntity struct {
	ID                string         `db:"id"                  gorm:"primaryKey;column:id"`
	LocationID        string         `db:"location_id"         gorm:"column:location_id;not null;index"`
	CRMConversationID string         `db:"crm_conversation_id" gorm:"column:crm_conversation_id;uniqueIndex"`
	ContactID         string         `db:"contact_id"          gorm:"column:contact_id;not null;index"`
	Contact           *ContactEntity `gorm:"foreignKey:ContactID;references:ID"`
	LastMessageBody   string         `db:"last_message_body"   gorm:"column:last_message_body"`
	LastMessageType   string         `db:"last_message_type"   gorm:"column:last_message_type"`
	LastMessageAt     time.Time      `db:"last_message_at"     gorm:"column:last_message_at"`
	LastDirection     string         `db:"last_direction"      gorm:"column:last_direction"`
	UnreadCount       int            `db:"unread_count"        gorm:"column:unread_count;not null;default:0"`
	ArchivedAt        *time.Time     `db:"archived_at"         gorm:"column:archived_at"`
	DeletedAt         *time.Time     `db:"deleted_at"          gorm:"column:deleted_at"`
	DeletedBy         string         `db:"deleted_by"          gorm:"column:deleted_by"`
	CreatedAt         time.Time      `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (ConversationEntity) TableName() string {
	return "conversations"
}

func toConversationEntity(c *model.Conversation) *ConversationEntity {
	if c == nil {
		return nil
	}
	return &ConversationEntity{
		ID:                c.ID,
		LocationID:        c.LocationID,
		CRMConversationID: c.CRMConversationID,
		ContactID:         c.ContactID,
		LastMessageBody:   c.LastMessageBody,
		LastMessageType:   c.LastMessageType,
		LastMessageAt:     c.LastMessageAt,
		LastDirection:     string(c.LastDirection),
		UnreadCount:       c.UnreadCount,
		ArchivedAt:        c.ArchivedAt,
		DeletedAt:         c.DeletedAt,
		DeletedBy:         c.DeletedBy,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func toConversationModel(e *ConversationEntity) *model.Conversation {
	if e == nil {
		return nil
	}
	return &model.Conversation{
		ID:                e.ID,
		LocationID:        e.LocationID,
		CRMConversationID: e.CRMConversationID,
		ContactID:         e.ContactID,
		Contact:           toContactModel(e.Contact),
		LastMessageBody:   e.LastMessageBody,
		LastMessageType:   e.LastMessageType,
		LastMessageAt:     e.LastMessageAt,
		LastDirection:     model.Direction(e.LastDirection),
		UnreadCount:       e.UnreadCount,
		ArchivedAt:        e.ArchivedAt,
		DeletedAt:         e.DeletedAt,
		DeletedBy:         e.DeletedBy,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func toConversationModels(entities []*ConversationEntity) []*model.Conversation {
	if entities == nil {
		return nil
	}
	models := make([]*model.Conversation, len(entities))
	for i, e := range entities {
		models[i] = toConversationModel(e)
	}
	return models
}
