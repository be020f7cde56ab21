package services

import (
	"github.com/estio/conversations-gateway/internal/model"
)

// Transport is one way a message can leave the system.
type Transport string

const (
	TransportBridge        Transport = "bridge"
	TransportLegacyGateway Transport = "legacy_gateway"
	TransportCRM           Transport = "crm"
)

// ResolveTransports returns the ordered list of usable transports for a
// channel, given the tenant's credentials. Pure decision function: a bridge
// instance outranks legacy gateway credentials, SMS and Email always go
// through the CRM's native send API. An empty result for WhatsApp means no
// direct transport exists; the delivery pipeline then falls back to the CRM
// path when the tenant has a CRM token.
func ResolveTransports(loc *model.Location, channel model.ChannelType) []Transport {
	switch channel {
	case model.ChannelWhatsApp:
		if loc.HasBridge() {
			return []Transport{TransportBridge}
		}
		if loc.HasLegacyGateway() {
			return []Transport{TransportLegacyGateway}
		}
		return nil
	default:
		return []Transport{TransportCRM}
	}
}
