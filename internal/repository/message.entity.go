package repository

import (
	"time"

	"github.com/estio/conversations-gateway/internal/model"
)

type MessageEntity struct {
	ID             string    `db:"id"              gorm:"primaryKey;column:id"`
	ConversationID string    `db:"conversation_id" gorm:"column:conversation_id;not null;index"`
	CRMMessageID   string    `db:"crm_message_id"  gorm:"column:crm_message_id;index"`
	WamID          string    `db:"wam_id"          gorm:"column:wam_id;index"`
	Body           string    `db:"body"            gorm:"column:body"`
	Type           string    `db:"type"            gorm:"column:type;not null"`
	Direction      string    `db:"direction"       gorm:"column:direction;not null"`
	Status         string    `db:"status"          gorm:"column:status;not null"`
	Subject        string    `db:"subject"         gorm:"column:subject"`
	EmailFrom      string    `db:"email_from"      gorm:"column:email_from"`
	EmailTo        string    `db:"email_to"        gorm:"column:email_to"`
	Source         string    `db:"source"          gorm:"column:source"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at"`
	UpdatedAt      time.Time `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		CRMMessageID:   m.CRMMessageID,
		WamID:          m.WamID,
		Body:           m.Body,
		Type:           string(m.Type),
		Direction:      string(m.Direction),
		Status:         string(m.Status),
		Subject:        m.Subject,
		EmailFrom:      m.EmailFrom,
		EmailTo:        m.EmailTo,
		Source:         string(m.Source),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		CRMMessageID:   e.CRMMessageID,
		WamID:          e.WamID,
		Body:           e.Body,
		Type:           model.MessageType(e.Type),
		Direction:      model.Direction(e.Direction),
		Status:         model.MessageStatus(e.Status),
		Subject:        e.Subject,
		EmailFrom:      e.EmailFrom,
		EmailTo:        e.EmailTo,
		Source:         model.MessageSource(e.Source),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
