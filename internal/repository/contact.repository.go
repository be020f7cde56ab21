package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/pg"
)

var (
	// ErrContactNotFound is returned when a contact does not exist.
	ErrContactNotFound = errors.New("contact not found")
)

type ContactRepository struct {
	*pg.DB
}

func NewContactRepository(db *pg.DB) *ContactRepository {
	return &ContactRepository{
		db,
	}
}

// Get resolves a contact by local id or remote-CRM contact id, tenant scoped.
func (r *ContactRepository) Get(ctx context.Context, locationID, id string) (*model.Contact, error) {
	var entity ContactEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("location_id = ?", locationID).
		Where("id = ? OR crm_contact_id = ?", id, id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return toContactModel(&entity), nil
}

func (r *ContactRepository) Create(ctx context.Context, c *model.Contact) (*model.Contact, error) {
	entity := toContactEntity(c)
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toContactModel(entity), nil
}

// SetCRMContactID persists a JIT-created remote identity onto the contact.
func (r *ContactRepository) SetCRMContactID(ctx context.Context, id, crmContactID string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&ContactEntity{}).
		Where("id = ?", id).
		Update("crm_contact_id", crmContactID).Error
}

// FindByPhone matches a contact by phone, tolerating formatting differences:
// candidate rows are fetched by digit suffix, then compared digits-to-digits
// with a 7-digit minimum overlap so short fragments never match.
func (r *ContactRepository) FindByPhone(ctx context.Context, locationID, rawPhone string) (*model.Contact, error) {
	digits := digitsOnly(rawPhone)
	if digits == "" {
		return nil, ErrContactNotFound
	}
	suffix := digits
	if len(suffix) > 7 {
		suffix = suffix[len(suffix)-7:]
	}

	// Stored numbers may carry separators, so the candidate filter allows
	// arbitrary characters between the suffix digits. Exact matching happens
	// below on the stripped values.
	var pattern strings.Builder
	pattern.WriteString("%")
	for _, d := range suffix {
		pattern.WriteRune(d)
		pattern.WriteString("%")
	}

	var entities []*ContactEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("location_id = ?", locationID).
		Where("phone LIKE ?", pattern.String()).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	for _, e := range entities {
		stored := digitsOnly(e.Phone)
		if stored == "" {
			continue
		}
		if stored == digits ||
			(strings.HasSuffix(stored, digits) && len(digits) >= 7) ||
			(strings.HasSuffix(digits, stored) && len(stored) >= 7) {
			return toContactModel(e), nil
		}
	}
	return nil, ErrContactNotFound
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
