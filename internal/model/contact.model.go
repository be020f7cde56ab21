package model

import "time"

// ContactType tags what kind of party a contact is.
type ContactType string

const (
	ContactTypeLead          ContactType = "Lead"
	ContactTypeWhatsAppGroup ContactType = "WhatsAppGroup"
)

type Contact struct {
	ID           string      `json:"id"             gorm:"primaryKey;column:id"`
	LocationID   string      `json:"location_id"    gorm:"column:location_id;not null;index"`
	CRMContactID string      `json:"crm_contact_id" gorm:"column:crm_contact_id;index"`
	Name         string      `json:"name"           gorm:"column:name"`
	Phone        string      `json:"phone"          gorm:"column:phone"`
	Email        string      `json:"email"          gorm:"column:email"`
	ContactType  ContactType `json:"contact_type"   gorm:"column:contact_type;default:Lead"`
	CreatedAt    time.Time   `json:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time   `json:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (Contact) TableName() string { return "contacts" }

// DisplayName is used in user-facing validation messages.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return "This contact"
}

func (c *Contact) IsGroup() bool {
	return c.ContactType == ContactTypeWhatsAppGroup
}
