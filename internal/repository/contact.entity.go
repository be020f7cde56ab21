package repository

import (
	"time"

	"github.com/estio/conversations-gateway/internal/model"
)

type ContactEntity struct {
	ID           string    `db:"id"             gorm:"primaryKey;column:id"`
	LocationID   string    `db:"location_id"    gorm:"column:location_id;not null;index"`
	CRMContactID string    `db:"crm_contact_id" gorm:"column:crm_contact_id;index"`
	Name         string    `db:"name"           gorm:"column:name"`
	Phone        string    `db:"phone"          gorm:"column:phone"`
	Email        string    `db:"email"          gorm:"column:email"`
	ContactType  string    `db:"contact_type"   gorm:"column:contact_type;default:Lead"`
	CreatedAt    time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (ContactEntity) TableName() string {
	return "contacts"
}

func toContactEntity(c *model.Contact) *ContactEntity {
	if c == nil {
		return nil
	}
	return &ContactEntity{
		ID:           c.ID,
		LocationID:   c.LocationID,
		CRMContactID: c.CRMContactID,
		Name:         c.Name,
		Phone:        c.Phone,
		Email:        c.Email,
		ContactType:  string(c.ContactType),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toContactModel(e *ContactEntity) *model.Contact {
	if e == nil {
		return nil
	}
	return &model.Contact{
		ID:           e.ID,
		LocationID:   e.LocationID,
		CRMContactID: e.CRMContactID,
		Name:         e.Name,
		Phone:        e.Phone,
		Email:        e.Email,
		ContactType:  model.ContactType(e.ContactType),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}
