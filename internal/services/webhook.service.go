package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/internal/repository"
	"github.com/estio/conversations-gateway/pkg/logger"
	"github.com/estio/conversations-gateway/pkg/redis"
)

var (
	ErrWebhookNoMessageID = errors.New("webhook event carries no message id")
)

const (
	webhookSeenKeyPrefix = "webhook:seen:"
	webhookSeenTTL       = 24 * time.Hour
)

// BridgeWebhookEvent is one live delivery from the bridge.
type BridgeWebhookEvent struct {
	Event    string                `json:"event"`
	Instance string                `json:"instance"`
	Data     gateway.BridgeMessage `json:"data"`
}

type WebhookLocationRepository interface {
	GetByBridgeInstance(ctx context.Context, instanceID string) (*model.Location, error)
}

type WebhookContactRepository interface {
	FindByPhone(ctx context.Context, locationID, rawPhone string) (*model.Contact, error)
	Create(ctx context.Context, c *model.Contact) (*model.Contact, error)
}

type WebhookConversationRepository interface {
	GetOrCreateForContact(ctx context.Context, locationID, contactID string) (*model.Conversation, error)
}

// WebhookService ingests live inbound messages. A redis seen-marker in front
// of the DB upsert drops replayed webhook deliveries cheaply; the upsert
// itself stays the correctness backstop when redis is cold.
type WebhookService struct {
	locations     WebhookLocationRepository
	contacts      WebhookContactRepository
	conversations WebhookConversationRepository
	redis         redis.RedisAdapter
	sync          *SyncService
}

func NewWebhookService(
	locations WebhookLocationRepository,
	contacts WebhookContactRepository,
	conversations WebhookConversationRepository,
	redisAdapter redis.RedisAdapter,
	syncService *SyncService,
) *WebhookService {
	return &WebhookService{
		locations:     locations,
		contacts:      contacts,
		conversations: conversations,
		redis:         redisAdapter,
		sync:          syncService,
	}
}

// HandleBridgeEvent processes one webhook delivery end to end: replay check,
// tenant resolution, contact/conversation resolution (creating both when the
// sender is unknown), then the shared normalize/store upsert.
func (s *WebhookService) HandleBridgeEvent(ctx context.Context, event *BridgeWebhookEvent) (SyncResult, error) {
	wamID := event.Data.Key.ID
	if wamID == "" {
		return SyncResult{}, ErrWebhookNoMessageID
	}

	claimed := false
	seenKey := webhookSeenKeyPrefix + event.Instance + ":" + wamID
	if s.redis != nil {
		acquired, err := s.redis.SetNX(seenKey, []byte("1"), webhookSeenTTL)
		if err != nil {
			// Redis being down must not drop messages; the DB upsert still
			// deduplicates.
			logger.Warn("webhook seen-marker check failed", "wam_id", wamID, "error", err)
		} else if !acquired {
			logger.Debug("webhook replay dropped", "wam_id", wamID)
			return SyncResult{Status: StatusSkipped}, nil
		} else {
			claimed = true
		}
	}

	res, err := s.ingest(ctx, event, wamID)
	if err != nil && claimed {
		// Release the marker so the bridge's redelivery of this event is
		// processed instead of dropped as a replay.
		if delErr := s.redis.Del(seenKey); delErr != nil {
			logger.Warn("webhook seen-marker release failed", "wam_id", wamID, "error", delErr)
		}
	}
	return res, err
}

func (s *WebhookService) ingest(ctx context.Context, event *BridgeWebhookEvent, wamID string) (SyncResult, error) {
	loc, err := s.locations.GetByBridgeInstance(ctx, event.Instance)
	if err != nil {
		return SyncResult{}, fmt.Errorf("resolve location: %w", err)
	}

	isGroup := strings.HasSuffix(event.Data.Key.RemoteJid, groupJidSuffix)
	digits := jidDigits(event.Data.Key.RemoteJid)
	if digits == "" {
		return SyncResult{}, fmt.Errorf("webhook event has no usable sender jid: %s", event.Data.Key.RemoteJid)
	}

	contact, err := s.resolveContact(ctx, loc, digits, event.Data.PushName, isGroup)
	if err != nil {
		return SyncResult{}, err
	}

	conv, err := s.conversations.GetOrCreateForContact(ctx, loc.ID, contact.ID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("resolve conversation: %w", err)
	}

	body := event.Data.Text()
	if body == "" {
		if !event.Data.HasMedia() {
			return SyncResult{Status: StatusSkipped}, nil
		}
		body = mediaPlaceholder
	}

	direction := model.DirectionInbound
	if event.Data.Key.FromMe {
		direction = model.DirectionOutbound
	}

	normalized := model.NormalizedMessage{
		LocationID:     loc.ID,
		ConversationID: conv.ID,
		Body:           body,
		Type:           model.TypeWhatsApp,
		WamID:          wamID,
		Timestamp:      time.Unix(event.Data.MessageTimestamp, 0),
		Direction:      direction,
		Source:         model.SourceWebhook,
		ContactName:    event.Data.PushName,
		IsGroup:        isGroup,
	}
	if isGroup && !event.Data.Key.FromMe {
		normalized.Participant = groupSender(&event.Data)
	}

	return s.sync.ProcessNormalizedMessage(ctx, normalized)
}

func (s *WebhookService) resolveContact(ctx context.Context, loc *model.Location, digits, pushName string, isGroup bool) (*model.Contact, error) {
	contact, err := s.contacts.FindByPhone(ctx, loc.ID, digits)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, repository.ErrContactNotFound) {
		return nil, fmt.Errorf("resolve contact: %w", err)
	}

	contactType := model.ContactTypeLead
	if isGroup {
		contactType = model.ContactTypeWhatsAppGroup
	}
	name := pushName
	if name == "" {
		name = "+" + digits
	}

	created, err := s.contacts.Create(ctx, &model.Contact{
		LocationID:  loc.ID,
		Name:        name,
		Phone:       "+" + digits,
		ContactType: contactType,
	})
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	logger.Info("contact created from webhook", "location_id", loc.ID, "contact_id", created.ID)
	return created, nil
}

// jidDigits strips the jid domain and every non-digit character.
func jidDigits(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	var b strings.Builder
	for _, r := range jid {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
