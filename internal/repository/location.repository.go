package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/pg"
)

var (
	// ErrLocationNotFound is returned when a tenant does not exist.
	ErrLocationNotFound = errors.New("location not found")
)

type LocationRepository struct {
	*pg.DB
}

func NewLocationRepository(db *pg.DB) *LocationRepository {
	return &LocationRepository{
		db,
	}
}

func (r *LocationRepository) Get(ctx context.Context, id string) (*model.Location, error) {
	var entity LocationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return toLocationModel(&entity), nil
}

// GetByBridgeInstance resolves the tenant that owns a bridge instance. Used
// by webhook ingest, where only the instance name identifies the sender.
func (r *LocationRepository) GetByBridgeInstance(ctx context.Context, instanceID string) (*model.Location, error) {
	var entity LocationEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("bridge_instance_id = ?", instanceID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return toLocationModel(&entity), nil
}

// UpdateBridgeStatus writes the freshly probed connection state back onto the
// tenant so cached reads converge with reality.
func (r *LocationRepository) UpdateBridgeStatus(ctx context.Context, id, status string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&LocationEntity{}).
		Where("id = ?", id).
		Update("bridge_connection_status", status).Error
}
