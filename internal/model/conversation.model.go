package model

import (
	"time"
)

// LifecycleState is the effective state of a conversation, computed from the
// two nullable timestamps. Deleted takes precedence over archived.
type LifecycleState string

const (
	LifecycleActive   LifecycleState = "active"
	LifecycleArchived LifecycleState = "archived"
	LifecycleTrashed  LifecycleState = "trashed"
)

type Conversation struct {
	ID                string     `json:"id"                  gorm:"primaryKey;column:id"`
	LocationID        string     `json:"location_id"         gorm:"column:location_id;not null;index"`
	CRMConversationID string     `json:"crm_conversation_id" gorm:"column:crm_conversation_id;uniqueIndex"`
	ContactID         string     `json:"contact_id"          gorm:"column:contact_id;not null;index"`
	Contact           *Contact   `json:"-"                   gorm:"foreignKey:ContactID;references:ID"`
	LastMessageBody   string     `json:"last_message_body"   gorm:"column:last_message_body"`
	LastMessageType   string     `json:"last_message_type"   gorm:"column:last_message_type"`
	LastMessageAt     time.Time  `json:"last_message_at"     gorm:"column:last_message_at"`
	LastDirection     Direction  `json:"last_direction"      gorm:"column:last_direction"`
	UnreadCount       int        `json:"unread_count"        gorm:"column:unread_count;not null;default:0"`
	SuggestedActions  []string   `json:"suggested_actions"   gorm:"-"`
	ArchivedAt        *time.Time `json:"archived_at"         gorm:"column:archived_at"`
	DeletedAt         *time.Time `json:"deleted_at"          gorm:"column:deleted_at"`
	DeletedBy         string     `json:"deleted_by"          gorm:"column:deleted_by"`
	CreatedAt         time.Time  `json:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `json:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (Conversation) TableName() string { return "conversations" }

// State derives the effective lifecycle state from the timestamps.
func (c *Conversation) State() LifecycleState {
	if c.DeletedAt != nil {
		return LifecycleTrashed
	}
	if c.ArchivedAt != nil {
		return LifecycleArchived
	}
	return LifecycleActive
}

// LastMessageUpdate is the input for the shared last-message snapshot update.
type LastMessageUpdate struct {
	ConversationID string
	MessageBody    string
	MessageType    string
	MessageDate    time.Time
	Direction      Direction
}

// ConversationFilter controls List queries.
type ConversationFilter struct {
	LocationID string
	State      *LifecycleState
	Limit      int // default 50
	Offset     int
}
