package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/estio/conversations-gateway/internal/events"
	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/internal/phone"
	"github.com/estio/conversations-gateway/internal/repository"
	"github.com/estio/conversations-gateway/pkg/logger"
	"github.com/estio/conversations-gateway/pkg/prom"
	"github.com/estio/conversations-gateway/pkg/worker"
)

var (
	ErrNoTransportConfigured = errors.New("no transport configured for this location")
	ErrContactNotFound       = errors.New("contact not found")
	ErrTransportDisconnected = errors.New("whatsapp is disconnected")
	ErrTransportFailed       = errors.New("transport send failed")
	ErrUnconfirmedSend       = errors.New("provider returned no confirmation id")
	ErrNotResendable         = errors.New("message cannot be resent")
)

const mirrorTimeout = 30 * time.Second

type SendReplyRequest struct {
	LocationID     string
	ConversationID string
	ContactID      string
	Body           string
	Subject        string
	Channel        model.ChannelType
}

// SendReceipt is what a successful delivery returns to the caller.
type SendReceipt struct {
	MessageID string    `json:"message_id"`
	Transport Transport `json:"transport"`
}

type DeliveryLocationRepository interface {
	Get(ctx context.Context, id string) (*model.Location, error)
	UpdateBridgeStatus(ctx context.Context, id, status string) error
}

type DeliveryContactRepository interface {
	Get(ctx context.Context, locationID, id string) (*model.Contact, error)
}

type DeliveryConversationRepository interface {
	Get(ctx context.Context, locationID, id string) (*model.Conversation, error)
	ApplyLastMessage(ctx context.Context, upd model.LastMessageUpdate) error
}

type DeliveryMessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Get(ctx context.Context, locationID, id string) (*model.Message, error)
	UpdateDeliveryConfirmation(ctx context.Context, id, wamID string, status model.MessageStatus) error
}

type BridgeTransport interface {
	SendText(ctx context.Context, instance, phone, text string) (string, error)
	FetchInstance(ctx context.Context, instance string) (gateway.ConnectionState, error)
}

type LegacyTransport interface {
	SendMessage(ctx context.Context, loc *model.Location, phone, body string) (string, error)
}

type CRMTransport interface {
	SendMessage(ctx context.Context, accessToken string, payload *gateway.CRMSendRequest) (string, error)
}

// DeliveryService orchestrates outbound sends: transport resolution, phone
// validation, the live bridge probe, provider call, local persistence and the
// detached CRM mirror.
type DeliveryService struct {
	locations     DeliveryLocationRepository
	contacts      DeliveryContactRepository
	conversations DeliveryConversationRepository
	messages      DeliveryMessageRepository
	bridge        BridgeTransport
	legacy        LegacyTransport
	crm           CRMTransport
	sync          *SyncService
	identity      *IdentityService
	publisher     events.Publisher
	mirror        *worker.WorkerManager

	// conversation-provider id of the CRM's custom channel; when set,
	// mirrored WhatsApp messages go through it instead of the native
	// WhatsApp channel.
	customProviderID string
}

func NewDeliveryService(
	locations DeliveryLocationRepository,
	contacts DeliveryContactRepository,
	conversations DeliveryConversationRepository,
	messages DeliveryMessageRepository,
	bridge BridgeTransport,
	legacy LegacyTransport,
	crm CRMTransport,
	syncService *SyncService,
	identity *IdentityService,
	publisher events.Publisher,
	mirror *worker.WorkerManager,
	customProviderID string,
) *DeliveryService {
	s := &DeliveryService{
		locations:        locations,
		contacts:         contacts,
		conversations:    conversations,
		messages:         messages,
		bridge:           bridge,
		legacy:           legacy,
		crm:              crm,
		sync:             syncService,
		identity:         identity,
		publisher:        publisher,
		mirror:           mirror,
		customProviderID: customProviderID,
	}
	if mirror != nil {
		mirror.SetWorker(s.processMirrorJob)
	}
	return s
}

// SendReply delivers one outbound message on the requested channel. SMS and
// Email always go through the CRM; WhatsApp prefers the bridge, then the
// legacy gateway, and falls back to the CRM path when neither is configured.
func (s *DeliveryService) SendReply(ctx context.Context, req SendReplyRequest) (*SendReceipt, error) {
	loc, err := s.locations.Get(ctx, req.LocationID)
	if err != nil {
		return nil, err
	}

	transports := ResolveTransports(loc, req.Channel)
	if len(transports) == 0 {
		if loc.HasCRM() {
			return s.sendViaCRM(ctx, loc, req)
		}
		return nil, ErrNoTransportConfigured
	}

	switch transports[0] {
	case TransportBridge:
		return s.sendViaBridge(ctx, loc, req)
	case TransportLegacyGateway:
		return s.sendViaLegacyGateway(ctx, loc, req)
	default:
		return s.sendViaCRM(ctx, loc, req)
	}
}

func (s *DeliveryService) sendViaBridge(ctx context.Context, loc *model.Location, req SendReplyRequest) (*SendReceipt, error) {
	contact, err := s.lookupContact(ctx, loc.ID, req.ContactID)
	if err != nil {
		return nil, err
	}
	digits, err := sendablePhone(contact)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.Get(ctx, loc.ID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// The cached connection status can be stale, so the send is gated on a
	// live probe. A single disconnected reading fails the send; there is no
	// polling loop.
	state, err := s.bridge.FetchInstance(ctx, loc.BridgeInstanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailed, err)
	}
	if state != gateway.ConnectionOpen {
		return nil, fmt.Errorf("%w (instance status: %s), reconnect the WhatsApp integration and try again", ErrTransportDisconnected, state)
	}

	started := time.Now()
	wamID, err := s.bridge.SendText(ctx, loc.BridgeInstanceID, digits, req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailed, err)
	}
	if wamID == "" {
		return nil, ErrUnconfirmedSend
	}
	prom.AddMessageSendDuration(time.Since(started).Seconds(), string(req.Channel), string(TransportBridge))

	// The confirmation id doubles as the CRM-message-id placeholder so a
	// later backfill of the same thread recognizes this exact message.
	msg, err := s.messages.Create(ctx, &model.Message{
		ConversationID: conv.ID,
		CRMMessageID:   wamID,
		WamID:          wamID,
		Body:           req.Body,
		Type:           model.TypeWhatsApp,
		Direction:      model.DirectionOutbound,
		Status:         model.MessageStatusSent,
		Source:         model.SourceAppUser,
	})
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if err := s.conversations.ApplyLastMessage(ctx, model.LastMessageUpdate{
		ConversationID: conv.ID,
		MessageBody:    req.Body,
		MessageType:    string(model.TypeWhatsApp),
		MessageDate:    time.Now(),
		Direction:      model.DirectionOutbound,
	}); err != nil {
		logger.Warn("failed to apply last-message snapshot", "conversation_id", conv.ID, "error", err)
	}

	if err := s.publisher.Publish(ctx, events.KeyMessageSent, events.Envelope{
		Meta: events.Meta{LocationID: loc.ID},
		Data: msg,
	}); err != nil {
		logger.Warn("failed to publish message.sent", "message_id", msg.ID, "error", err)
	}

	s.enqueueMirror(loc, contact, conv, msg)

	return &SendReceipt{MessageID: msg.ID, Transport: TransportBridge}, nil
}

func (s *DeliveryService) sendViaLegacyGateway(ctx context.Context, loc *model.Location, req SendReplyRequest) (*SendReceipt, error) {
	contact, err := s.lookupContact(ctx, loc.ID, req.ContactID)
	if err != nil {
		return nil, err
	}
	digits, err := sendablePhone(contact)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.Get(ctx, loc.ID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	providerID, err := s.legacy.SendMessage(ctx, loc, digits, req.Body)
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayNoMessageID) {
			return nil, ErrUnconfirmedSend
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportFailed, err)
	}
	prom.AddMessageSendDuration(time.Since(started).Seconds(), string(req.Channel), string(TransportLegacyGateway))

	// Persisted as a self-originated webhook event through the shared
	// normalize/store primitive; the CRM legacy path is never attempted.
	res, err := s.sync.ProcessNormalizedMessage(ctx, model.NormalizedMessage{
		LocationID:     loc.ID,
		ConversationID: conv.ID,
		Body:           req.Body,
		Type:           model.TypeWhatsApp,
		WamID:          providerID,
		Timestamp:      time.Now(),
		Direction:      model.DirectionOutbound,
		Source:         model.SourceWebhook,
	})
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	return &SendReceipt{MessageID: res.MessageID, Transport: TransportLegacyGateway}, nil
}

func (s *DeliveryService) sendViaCRM(ctx context.Context, loc *model.Location, req SendReplyRequest) (*SendReceipt, error) {
	if !loc.HasCRM() {
		return nil, ErrNoTransportConfigured
	}
	conv, err := s.conversations.Get(ctx, loc.ID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	payload := &gateway.CRMSendRequest{
		Type:           string(req.Channel),
		ConversationID: conv.CRMConversationID,
	}
	if req.Channel == model.ChannelEmail {
		payload.HTML = strings.ReplaceAll(req.Body, "\n", "<br/>")
		payload.Subject = req.Subject
		payload.EmailFrom = loc.Email
		payload.EmailFromName = loc.Name
	} else {
		payload.Message = req.Body
		if req.Channel == model.ChannelWhatsApp && s.customProviderID != "" {
			payload.ConversationProviderID = s.customProviderID
		}
	}

	started := time.Now()
	messageID, err := s.crm.SendMessage(ctx, loc.CRMAccessToken, payload)
	if err != nil {
		if errors.Is(err, gateway.ErrCRMNoMessageID) {
			return nil, ErrUnconfirmedSend
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportFailed, err)
	}
	prom.AddMessageSendDuration(time.Since(started).Seconds(), string(req.Channel), string(TransportCRM))

	// Optimistic persist: the CRM accepted the message, the local row exists
	// before any webhook confirms it.
	res, err := s.sync.ProcessNormalizedMessage(ctx, model.NormalizedMessage{
		LocationID:     loc.ID,
		ConversationID: conv.ID,
		Body:           req.Body,
		Type:           channelMessageType(req.Channel),
		CRMMessageID:   messageID,
		Timestamp:      time.Now(),
		Direction:      model.DirectionOutbound,
		Source:         model.SourceAppUser,
		Subject:        req.Subject,
		From:           loc.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	return &SendReceipt{MessageID: res.MessageID, Transport: TransportCRM}, nil
}

// ResendMessage re-sends a previously delivered WhatsApp message through the
// bridge and rewrites the existing row's confirmation id. It never appends a
// second row for the same message.
func (s *DeliveryService) ResendMessage(ctx context.Context, locationID, messageID string) (*SendReceipt, error) {
	msg, err := s.messages.Get(ctx, locationID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Direction != model.DirectionOutbound {
		return nil, fmt.Errorf("%w: only outbound messages can be resent", ErrNotResendable)
	}
	if msg.Type != model.TypeWhatsApp {
		return nil, fmt.Errorf("%w: only WhatsApp messages can be resent", ErrNotResendable)
	}

	loc, err := s.locations.Get(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if !loc.HasBridge() {
		return nil, fmt.Errorf("%w: no bridge instance configured", ErrNotResendable)
	}

	conv, err := s.conversations.Get(ctx, locationID, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	contact, err := s.lookupContact(ctx, locationID, conv.ContactID)
	if err != nil {
		return nil, err
	}
	digits, err := sendablePhone(contact)
	if err != nil {
		return nil, err
	}

	wamID, err := s.bridge.SendText(ctx, loc.BridgeInstanceID, digits, msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailed, err)
	}
	if wamID == "" {
		return nil, ErrUnconfirmedSend
	}

	if err := s.messages.UpdateDeliveryConfirmation(ctx, msg.ID, wamID, model.MessageStatusSent); err != nil {
		return nil, err
	}

	return &SendReceipt{MessageID: msg.ID, Transport: TransportBridge}, nil
}

// BridgeStatus probes the live connection state of the tenant's bridge
// instance and persists it back onto the Location when it drifts from the
// cached value.
func (s *DeliveryService) BridgeStatus(ctx context.Context, locationID string) (gateway.ConnectionState, error) {
	loc, err := s.locations.Get(ctx, locationID)
	if err != nil {
		return gateway.ConnectionUnknown, err
	}
	if !loc.HasBridge() {
		return gateway.ConnectionUnknown, ErrNoTransportConfigured
	}

	state, err := s.bridge.FetchInstance(ctx, loc.BridgeInstanceID)
	if err != nil {
		return gateway.ConnectionUnknown, err
	}

	if string(state) != loc.BridgeConnectionStatus {
		if err := s.locations.UpdateBridgeStatus(ctx, loc.ID, string(state)); err != nil {
			logger.Warn("failed to persist bridge status", "location_id", loc.ID, "error", err)
		}
	}
	return state, nil
}

func (s *DeliveryService) lookupContact(ctx context.Context, locationID, contactID string) (*model.Contact, error) {
	contact, err := s.contacts.Get(ctx, locationID, contactID)
	if err != nil {
		if errors.Is(err, repository.ErrContactNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return contact, nil
}

// sendablePhone validates the contact's phone and returns the canonical
// digits. Rejections carry a message that names the contact so the UI can
// show it verbatim.
func sendablePhone(contact *model.Contact) (string, error) {
	digits, err := phone.Normalize(contact.Phone)
	if err == nil {
		return digits, nil
	}
	name := contact.DisplayName()
	switch {
	case errors.Is(err, phone.ErrMissing):
		return "", fmt.Errorf("%w: %s has no phone number", err, name)
	case errors.Is(err, phone.ErrMasked):
		return "", fmt.Errorf("%w: %s's phone number is redacted by the listing agency and cannot be messaged", err, name)
	case errors.Is(err, phone.ErrMissingCountryCode):
		return "", fmt.Errorf("%w: %s's phone number looks local, add a country code (e.g. +357) and retry", err, name)
	default:
		return "", err
	}
}

func channelMessageType(ch model.ChannelType) model.MessageType {
	switch ch {
	case model.ChannelEmail:
		return model.TypeEmail
	case model.ChannelWhatsApp:
		return model.TypeWhatsApp
	default:
		return model.TypeSMS
	}
}

/* ------------------------------- crm mirror ------------------------------- */

type mirrorJob struct {
	location     *model.Location
	contact      *model.Contact
	conversation *model.Conversation
	message      *model.Message
}

func (s *DeliveryService) enqueueMirror(loc *model.Location, contact *model.Contact, conv *model.Conversation, msg *model.Message) {
	if s.mirror == nil || !loc.HasCRM() {
		return
	}
	s.mirror.Enqueue(&mirrorJob{
		location:     loc,
		contact:      contact,
		conversation: conv,
		message:      msg,
	})
}

// processMirrorJob pushes one locally delivered message into the CRM. It runs
// detached from the originating request; failures are logged and never
// surfaced, local delivery is the source of truth.
func (s *DeliveryService) processMirrorJob(workerIndex int, job interface{}) {
	j, ok := job.(*mirrorJob)
	if !ok {
		logger.Error("mirror worker received unexpected job type", "worker", workerIndex)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	remoteID, err := s.identity.EnsureRemoteContact(ctx, j.contact, j.location)
	if err != nil {
		logger.Warn("crm mirror skipped, no remote contact", "message_id", j.message.ID, "error", err)
		return
	}

	payload := &gateway.CRMSendRequest{
		Type:           string(model.ChannelWhatsApp),
		ConversationID: j.conversation.CRMConversationID,
		ContactID:      remoteID,
		Message:        j.message.Body,
	}
	if s.customProviderID != "" {
		payload.Type = "Custom"
		payload.ConversationProviderID = s.customProviderID
	}

	if _, err := s.crm.SendMessage(ctx, j.location.CRMAccessToken, payload); err != nil {
		logger.Warn("crm mirror failed", "message_id", j.message.ID, "error", err)
		return
	}
	logger.Debug("crm mirror done", "message_id", j.message.ID, "worker", workerIndex)
}
