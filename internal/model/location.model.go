package model

import "time"

// Location is the tenant record. It owns all provider credentials: the
// WhatsApp bridge instance, the legacy SMS-gateway account and the CRM access
// token. The bridge instance id takes priority over legacy gateway
// credentials when both are present.
type Location struct {
	ID                     string    `json:"id"                    gorm:"primaryKey;column:id"`
	Name                   string    `json:"name"                  gorm:"column:name"`
	Email                  string    `json:"email"                 gorm:"column:email"`
	CRMLocationID          string    `json:"crm_location_id"       gorm:"column:crm_location_id;index"`
	CRMAccessToken         string    `json:"-"                     gorm:"column:crm_access_token"`
	BridgeInstanceID       string    `json:"bridge_instance_id"    gorm:"column:bridge_instance_id"`
	BridgeConnectionStatus string    `json:"bridge_connection_status" gorm:"column:bridge_connection_status"`
	GatewayAccountID       string    `json:"-"                     gorm:"column:gateway_account_id"`
	GatewayAccountSecret   string    `json:"-"                     gorm:"column:gateway_account_secret"`
	GatewayFromNumber      string    `json:"-"                     gorm:"column:gateway_from_number"`
	CreatedAt              time.Time `json:"created_at"            gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time `json:"updated_at"            gorm:"column:updated_at;autoUpdateTime"`
}

func (Location) TableName() string { return "locations" }

func (l *Location) HasBridge() bool {
	return l.BridgeInstanceID != ""
}

func (l *Location) HasLegacyGateway() bool {
	return l.GatewayAccountID != "" && l.GatewayAccountSecret != "" && l.GatewayFromNumber != ""
}

func (l *Location) HasCRM() bool {
	return l.CRMAccessToken != ""
}
