package repository

import (
	"time"

	"github.com/estio/conversations-gateway/internal/model"
)

type LocationEntity struct {
	ID                     string    `db:"id"                       gorm:"primaryKey;column:id"`
	Name                   string    `db:"name"                     gorm:"column:name"`
	Email                  string    `db:"email"                    gorm:"column:email"`
	CRMLocationID          string    `db:"crm_location_id"          gorm:"column:crm_location_id;index"`
	CRMAccessToken         string    `db:"crm_access_token"         gorm:"column:crm_access_token"`
	BridgeInstanceID       string    `db:"bridge_instance_id"       gorm:"column:bridge_instance_id"`
	BridgeConnectionStatus string    `db:"bridge_connection_status" gorm:"column:bridge_connection_status"`
	GatewayAccountID       string    `db:"gateway_account_id"       gorm:"column:gateway_account_id"`
	GatewayAccountSecret   string    `db:"gateway_account_secret"   gorm:"column:gateway_account_secret"`
	GatewayFromNumber      string    `db:"gateway_from_number"      gorm:"column:gateway_from_number"`
	CreatedAt              time.Time `db:"created_at"               gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time `db:"updated_at"               gorm:"column:updated_at;autoUpdateTime"`
}

func (LocationEntity) TableName() string {
	return "locations"
}

func toLocationEntity(l *model.Location) *LocationEntity {
	if l == nil {
		return nil
	}
	return &LocationEntity{
		ID:                     l.ID,
		Name:                   l.Name,
		Email:                  l.Email,
		CRMLocationID:          l.CRMLocationID,
		CRMAccessToken:         l.CRMAccessToken,
		BridgeInstanceID:       l.BridgeInstanceID,
		BridgeConnectionStatus: l.BridgeConnectionStatus,
		GatewayAccountID:       l.GatewayAccountID,
		GatewayAccountSecret:   l.GatewayAccountSecret,
		GatewayFromNumber:      l.GatewayFromNumber,
		CreatedAt:              l.CreatedAt,
		UpdatedAt:              l.UpdatedAt,
	}
}

func toLocationModel(e *LocationEntity) *model.Location {
	if e == nil {
		return nil
	}
	return &model.Location{
		ID:                     e.ID,
		Name:                   e.Name,
		Email:                  e.Email,
		CRMLocationID:          e.CRMLocationID,
		CRMAccessToken:         e.CRMAccessToken,
		BridgeInstanceID:       e.BridgeInstanceID,
		BridgeConnectionStatus: e.BridgeConnectionStatus,
		GatewayAccountID:       e.GatewayAccountID,
		GatewayAccountSecret:   e.GatewayAccountSecret,
		GatewayFromNumber:      e.GatewayFromNumber,
		CreatedAt:              e.CreatedAt,
		UpdatedAt:              e.UpdatedAt,
	}
}
