package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/logger"
	"github.com/estio/conversations-gateway/pkg/pg"
)

var (
	// ErrConversationNotFound is returned when a conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Messages dated further than this into the future are rejected by the
// last-message snapshot update (clock-drift tolerance).
const maxFutureDrift = 24 * time.Hour

type ConversationRepository struct {
	*pg.DB
}

func NewConversationRepository(db *pg.DB) *ConversationRepository {
	return &ConversationRepository{
		db,
	}
}

// Get resolves a conversation by local id or remote-CRM conversation id,
// scoped to one tenant.
func (r *ConversationRepository) Get(ctx context.Context, locationID, id string) (*model.Conversation, error) {
	var entity ConversationEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("Contact").
		Where("location_id = ?", locationID).
		Where("id = ? OR crm_conversation_id = ?", id, id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return toConversationModel(&entity), nil
}

// GetOrCreateForContact returns the tenant's conversation with the contact,
// creating an empty one when none exists yet (first inbound message).
func (r *ConversationRepository) GetOrCreateForContact(ctx context.Context, locationID, contactID string) (*model.Conversation, error) {
	var entity ConversationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("location_id = ? AND contact_id = ?", locationID, contactID).
		First(&entity).Error
	if err == nil {
		return toConversationModel(&entity), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	entity = ConversationEntity{
		ID:                uuid.NewString(),
		LocationID:        locationID,
		CRMConversationID: uuid.NewString(),
		ContactID:         contactID,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(&entity).Error; err != nil {
		return nil, err
	}
	return toConversationModel(&entity), nil
}

func (r *ConversationRepository) List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&ConversationEntity{}).
		Where("location_id = ?", f.LocationID)

	if f.State != nil {
		switch *f.State {
		case model.LifecycleActive:
			q = q.Where("deleted_at IS NULL AND archived_at IS NULL")
		case model.LifecycleArchived:
			q = q.Where("deleted_at IS NULL AND archived_at IS NOT NULL")
		case model.LifecycleTrashed:
			q = q.Where("deleted_at IS NOT NULL")
		}
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*ConversationEntity
	if err := q.Preload("Contact").
		Order("last_message_at DESC").
		Limit(limit).Offset(offset).
		Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toConversationModels(entities), total, nil
}

// ApplyLastMessage overwrites the denormalized last-message snapshot and
// maintains the unread counter. Guards carried over from the shared update
// helper: timestamps more than 24h in the future are rejected, and the
// snapshot only advances when the message is newer than the stored one.
// Only inbound messages increment unread_count.
func (r *ConversationRepository) ApplyLastMessage(ctx context.Context, upd model.LastMessageUpdate) error {
	if upd.MessageDate.After(time.Now().Add(maxFutureDrift)) {
		logger.Warn("last-message update rejected: timestamp too far in future",
			"conversation_id", upd.ConversationID, "message_date", upd.MessageDate)
		return nil
	}

	var entity ConversationEntity
	err := r.Write(ctx).WithContext(ctx).
		Select("id", "last_message_at", "unread_count").
		Where("id = ?", upd.ConversationID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}

	values := map[string]interface{}{}

	if entity.LastMessageAt.IsZero() || upd.MessageDate.After(entity.LastMessageAt) {
		values["last_message_body"] = upd.MessageBody
		values["last_message_type"] = upd.MessageType
		values["last_message_at"] = upd.MessageDate
		values["last_direction"] = string(upd.Direction)
	}

	if upd.Direction == model.DirectionInbound {
		values["unread_count"] = gorm.Expr("unread_count + 1")
	}

	if len(values) == 0 {
		return nil
	}

	return r.Write(ctx).WithContext(ctx).
		Model(&ConversationEntity{}).
		Where("id = ?", upd.ConversationID).
		Updates(values).Error
}

// MarkRead zeroes the unread counter.
func (r *ConversationRepository) MarkRead(ctx context.Context, locationID, conversationID string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&ConversationEntity{}).
		Where("location_id = ? AND id = ?", locationID, conversationID).
		Update("unread_count", 0).Error
}

// States returns the effective lifecycle state of each requested id. Ids that
// do not exist for the tenant are absent from the result.
func (r *ConversationRepository) States(ctx context.Context, locationID string, ids []string) (map[string]model.LifecycleState, error) {
	var entities []*ConversationEntity
	err := r.Read(ctx).WithContext(ctx).
		Select("id", "archived_at", "deleted_at").
		Where("location_id = ? AND id IN ?", locationID, ids).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	states := make(map[string]model.LifecycleState, len(entities))
	for _, e := range entities {
		states[e.ID] = toConversationModel(e).State()
	}
	return states, nil
}

/* ----------------------------- lifecycle ops ------------------------------ */
//
// All bulk transitions are tenant-scoped and guarded by a precondition on the
// current timestamps, so a row can never be double-transitioned; the returned
// count is the number of rows actually affected.

func (r *ConversationRepository) Archive(ctx context.Context, locationID string, ids []string) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&ConversationEntity{}).
		Where("location_id = ? AND id IN ?", locationID, ids).
		Where("deleted_at IS NULL AND archived_at IS NULL").
		Update("archived_at", time.Now())
	return res.RowsAffected, res.Error
}

func (r *ConversationRepository) Unarchive(ctx context.Context, locationID string, ids []string) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&ConversationEntity{}).
		Where("location_id = ? AND id IN ?", locationID, ids).
		Where("deleted_at IS NULL AND archived_at IS NOT NULL").
		Update("archived_at", nil)
	return res.RowsAffected, res.Error
}

func (r *ConversationRepository) SoftDelete(ctx context.Context, locationID string, ids []string, deletedBy string) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&ConversationEntity{}).
		Where("location_id = ? AND id IN ?", locationID, ids).
		Where("deleted_at IS NULL").
		Updates(map[string]interface{}{
			"deleted_at": time.Now(),
			"deleted_by": deletedBy,
		})
	return res.RowsAffected, res.Error
}

func (r *ConversationRepository) Restore(ctx context.Context, locationID string, ids []string) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&ConversationEntity{}).
		Where("location_id = ? AND id IN ?", locationID, ids).
		Where("deleted_at IS NOT NULL").
		Updates(map[string]interface{}{
			"deleted_at": nil,
			"deleted_by": "",
		})
	return res.RowsAffected, res.Error
}

// PermanentlyDelete hard-deletes, but only rows already in trash. The
// precondition is the defense against deleting live data through the wrong
// code path.
func (r *ConversationRepository) PermanentlyDelete(ctx context.Context, locationID string, ids []string) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("location_id = ? AND id IN ?", locationID, ids).
		Where("deleted_at IS NOT NULL").
		Delete(&ConversationEntity{})
	return res.RowsAffected, res.Error
}

func (r *ConversationRepository) EmptyTrash(ctx context.Context, locationID string) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Where("location_id = ?", locationID).
		Where("deleted_at IS NOT NULL").
		Delete(&ConversationEntity{})
	return res.RowsAffected, res.Error
}
