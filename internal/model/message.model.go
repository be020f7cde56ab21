package model

import (
	"errors"
	"time"
)

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ChannelType is the channel a reply is requested on.
type ChannelType string

const (
	ChannelSMS      ChannelType = "SMS"
	ChannelEmail    ChannelType = "Email"
	ChannelWhatsApp ChannelType = "WhatsApp"
)

// MessageType is the provider-specific subtype stored on the row.
type MessageType string

const (
	TypeSMS      MessageType = "TYPE_SMS"
	TypeEmail    MessageType = "TYPE_EMAIL"
	TypeWhatsApp MessageType = "TYPE_WHATSAPP"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusReceived  MessageStatus = "received"
)

// MessageSource tags where a message record came from.
type MessageSource string

const (
	SourceAppUser MessageSource = "app_user"
	SourceWebhook MessageSource = "webhook"
	SourceImport  MessageSource = "import"
)

type Message struct {
	ID             string        `json:"id"              gorm:"primaryKey;column:id"`
	ConversationID string        `json:"conversation_id" gorm:"column:conversation_id;not null;index"`
	CRMMessageID   string        `json:"crm_message_id"  gorm:"column:crm_message_id;index"`
	WamID          string        `json:"wam_id"          gorm:"column:wam_id;index"`
	Body           string        `json:"body"            gorm:"column:body"`
	Type           MessageType   `json:"type"            gorm:"column:type;not null"`
	Direction      Direction     `json:"direction"       gorm:"column:direction;not null"`
	Status         MessageStatus `json:"status"          gorm:"column:status;not null"`
	Subject        string        `json:"subject"         gorm:"column:subject"`
	EmailFrom      string        `json:"email_from"      gorm:"column:email_from"`
	EmailTo        string        `json:"email_to"        gorm:"column:email_to"`
	Source         MessageSource `json:"source"          gorm:"column:source"`
	CreatedAt      time.Time     `json:"created_at"      gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time     `json:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (Message) TableName() string { return "messages" }

// NormalizedMessage is the unified input of the normalize/store primitive.
// WamID is the idempotency key for bridge-originated records; CRM-originated
// records carry only CRMMessageID.
type NormalizedMessage struct {
	LocationID     string
	ConversationID string
	From           string
	To             string
	Body           string
	Type           MessageType
	WamID          string
	CRMMessageID   string
	Timestamp      time.Time
	Direction      Direction
	Source         MessageSource
	ContactName    string
	Subject        string
	IsGroup        bool
	Participant    string
}

func (n NormalizedMessage) Validate() error {
	if n.ConversationID == "" {
		return errors.New("conversation_id is required")
	}
	if n.WamID == "" && n.CRMMessageID == "" {
		return errors.New("message id is required")
	}
	return nil
}

// DedupKey returns the idempotency key of the record: the bridge id when
// present, else the CRM message id.
func (n NormalizedMessage) DedupKey() string {
	if n.WamID != "" {
		return n.WamID
	}
	return n.CRMMessageID
}
