package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/estio/conversations-gateway/internal/events"
	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/internal/phone"
	"github.com/estio/conversations-gateway/internal/repository"
)

type MockLocationRepository struct {
	mock.Mock
}

func (m *MockLocationRepository) Get(ctx context.Context, id string) (*model.Location, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Location), args.Error(1)
}

func (m *MockLocationRepository) GetByBridgeInstance(ctx context.Context, instanceID string) (*model.Location, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Location), args.Error(1)
}

func (m *MockLocationRepository) UpdateBridgeStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) Get(ctx context.Context, locationID, id string) (*model.Contact, error) {
	args := m.Called(ctx, locationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *MockContactRepository) FindByPhone(ctx context.Context, locationID, rawPhone string) (*model.Contact, error) {
	args := m.Called(ctx, locationID, rawPhone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *MockContactRepository) Create(ctx context.Context, c *model.Contact) (*model.Contact, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *MockContactRepository) SetCRMContactID(ctx context.Context, id, crmContactID string) error {
	args := m.Called(ctx, id, crmContactID)
	return args.Error(0)
}

type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) Get(ctx context.Context, locationID, id string) (*model.Conversation, error) {
	args := m.Called(ctx, locationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *MockConversationRepository) GetOrCreateForContact(ctx context.Context, locationID, contactID string) (*model.Conversation, error) {
	args := m.Called(ctx, locationID, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ApplyLastMessage(ctx context.Context, upd model.LastMessageUpdate) error {
	args := m.Called(ctx, upd)
	return args.Error(0)
}

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) Get(ctx context.Context, locationID, id string) (*model.Message, error) {
	args := m.Called(ctx, locationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) FindByDedupKey(ctx context.Context, conversationID, key string) (*model.Message, error) {
	args := m.Called(ctx, conversationID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateDeliveryConfirmation(ctx context.Context, id, wamID string, status model.MessageStatus) error {
	args := m.Called(ctx, id, wamID, status)
	return args.Error(0)
}

type MockBridgeTransport struct {
	mock.Mock
}

func (m *MockBridgeTransport) SendText(ctx context.Context, instance, phoneNumber, text string) (string, error) {
	args := m.Called(ctx, instance, phoneNumber, text)
	return args.String(0), args.Error(1)
}

func (m *MockBridgeTransport) FetchInstance(ctx context.Context, instance string) (gateway.ConnectionState, error) {
	args := m.Called(ctx, instance)
	return args.Get(0).(gateway.ConnectionState), args.Error(1)
}

type MockCRMTransport struct {
	mock.Mock
}

func (m *MockCRMTransport) SendMessage(ctx context.Context, accessToken string, payload *gateway.CRMSendRequest) (string, error) {
	args := m.Called(ctx, accessToken, payload)
	return args.String(0), args.Error(1)
}

func (m *MockCRMTransport) CreateContact(ctx context.Context, accessToken string, req *gateway.CRMContactRequest) (string, error) {
	args := m.Called(ctx, accessToken, req)
	return args.String(0), args.Error(1)
}

type MockLegacyTransport struct {
	mock.Mock
}

func (m *MockLegacyTransport) SendMessage(ctx context.Context, loc *model.Location, phoneNumber, body string) (string, error) {
	args := m.Called(ctx, loc, phoneNumber, body)
	return args.String(0), args.Error(1)
}

type deliveryFixture struct {
	locations     *MockLocationRepository
	contacts      *MockContactRepository
	conversations *MockConversationRepository
	messages      *MockMessageRepository
	bridge        *MockBridgeTransport
	legacy        *MockLegacyTransport
	crm           *MockCRMTransport
	service       *DeliveryService
}

func newDeliveryFixture(customProviderID string) *deliveryFixture {
	f := &deliveryFixture{
		locations:     new(MockLocationRepository),
		contacts:      new(MockContactRepository),
		conversations: new(MockConversationRepository),
		messages:      new(MockMessageRepository),
		bridge:        new(MockBridgeTransport),
		legacy:        new(MockLegacyTransport),
		crm:           new(MockCRMTransport),
	}
	publisher := events.NewFallback()
	syncService := NewSyncService(f.messages, f.conversations, publisher)
	identity := NewIdentityService(f.contacts, f.crm)
	f.service = NewDeliveryService(
		f.locations, f.contacts, f.conversations, f.messages,
		f.bridge, f.legacy, f.crm,
		syncService, identity, publisher, nil, customProviderID,
	)
	return f
}

func bridgedLocation() *model.Location {
	return &model.Location{
		ID:               "loc-1",
		Name:             "Limassol Office",
		Email:            "office@example.com",
		BridgeInstanceID: "inst-1",
		CRMAccessToken:   "token-1",
	}
}

func TestDeliveryService_SendReply_DisconnectedBridge(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	f.locations.On("Get", ctx, "loc-1").Return(bridgedLocation(), nil)
	f.contacts.On("Get", ctx, "loc-1", "contact-1").Return(&model.Contact{
		ID:         "contact-1",
		LocationID: "loc-1",
		Name:       "Andreas",
		Phone:      "+357 99 04 55 11",
	}, nil)
	f.conversations.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{
		ID:         "conv-1",
		LocationID: "loc-1",
		ContactID:  "contact-1",
	}, nil)
	f.bridge.On("FetchInstance", ctx, "inst-1").Return(gateway.ConnectionClosed, nil)

	_, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Body:           "hello",
		Channel:        model.ChannelWhatsApp,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportDisconnected)
	assert.Contains(t, err.Error(), "disconnected")
	f.bridge.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliveryService_SendReply_BridgeSuccess(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	f.locations.On("Get", ctx, "loc-1").Return(bridgedLocation(), nil)
	f.contacts.On("Get", ctx, "loc-1", "contact-1").Return(&model.Contact{
		ID:    "contact-1",
		Name:  "Andreas",
		Phone: "+35799045511",
	}, nil)
	f.conversations.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{
		ID:        "conv-1",
		ContactID: "contact-1",
	}, nil)
	f.bridge.On("FetchInstance", ctx, "inst-1").Return(gateway.ConnectionOpen, nil)
	f.bridge.On("SendText", ctx, "inst-1", "35799045511", "hello").Return("wam-123", nil)
	f.messages.On("Create", ctx, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.WamID == "wam-123" && msg.CRMMessageID == "wam-123" &&
			msg.Direction == model.DirectionOutbound && msg.Source == model.SourceAppUser
	})).Return(&model.Message{ID: "msg-1", WamID: "wam-123"}, nil)
	f.conversations.On("ApplyLastMessage", ctx, mock.MatchedBy(func(upd model.LastMessageUpdate) bool {
		return upd.ConversationID == "conv-1" && upd.Direction == model.DirectionOutbound
	})).Return(nil)

	receipt, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Body:           "hello",
		Channel:        model.ChannelWhatsApp,
	})

	require.NoError(t, err)
	assert.Equal(t, "msg-1", receipt.MessageID)
	assert.Equal(t, TransportBridge, receipt.Transport)
	f.messages.AssertExpectations(t)
	f.conversations.AssertExpectations(t)
}

func TestDeliveryService_SendReply_PhoneValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		phoneNumber string
		wantErr     error
	}{
		{"missing phone", "", phone.ErrMissing},
		{"masked phone", "9*045511", phone.ErrMasked},
		{"no country code", "99045511", phone.ErrMissingCountryCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDeliveryFixture("")
			f.locations.On("Get", ctx, "loc-1").Return(bridgedLocation(), nil)
			f.contacts.On("Get", ctx, "loc-1", "contact-1").Return(&model.Contact{
				ID:    "contact-1",
				Name:  "Andreas",
				Phone: tt.phoneNumber,
			}, nil)

			_, err := f.service.SendReply(ctx, SendReplyRequest{
				LocationID:     "loc-1",
				ConversationID: "conv-1",
				ContactID:      "contact-1",
				Body:           "hello",
				Channel:        model.ChannelWhatsApp,
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "Andreas", "validation messages name the contact")
			f.bridge.AssertNotCalled(t, "FetchInstance", mock.Anything, mock.Anything)
		})
	}
}

func TestDeliveryService_SendReply_ContactNotFound(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	f.locations.On("Get", ctx, "loc-1").Return(bridgedLocation(), nil)
	f.contacts.On("Get", ctx, "loc-1", "ghost").Return(nil, repository.ErrContactNotFound)

	_, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "ghost",
		Channel:        model.ChannelWhatsApp,
	})
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestDeliveryService_SendReply_UnconfirmedSend(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	f.locations.On("Get", ctx, "loc-1").Return(bridgedLocation(), nil)
	f.contacts.On("Get", ctx, "loc-1", "contact-1").Return(&model.Contact{
		ID:    "contact-1",
		Phone: "+35799045511",
	}, nil)
	f.conversations.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{ID: "conv-1"}, nil)
	f.bridge.On("FetchInstance", ctx, "inst-1").Return(gateway.ConnectionOpen, nil)
	f.bridge.On("SendText", ctx, "inst-1", "35799045511", "hello").Return("", nil)

	_, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Body:           "hello",
		Channel:        model.ChannelWhatsApp,
	})

	assert.ErrorIs(t, err, ErrUnconfirmedSend)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDeliveryService_SendReply_EmailViaCRM(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	loc := &model.Location{
		ID:             "loc-1",
		Name:           "Limassol Office",
		Email:          "office@example.com",
		CRMAccessToken: "token-1",
	}
	f.locations.On("Get", ctx, "loc-1").Return(loc, nil)
	f.conversations.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{
		ID:                "conv-1",
		CRMConversationID: "crm-conv-9",
	}, nil)
	f.crm.On("SendMessage", ctx, "token-1", mock.MatchedBy(func(p *gateway.CRMSendRequest) bool {
		return p.Type == "Email" &&
			p.HTML == "line1<br/>line2" &&
			p.Message == "" &&
			p.Subject == "Viewing follow-up" &&
			p.EmailFrom == "office@example.com" &&
			p.EmailFromName == "Limassol Office" &&
			p.ConversationID == "crm-conv-9"
	})).Return("crm-msg-1", nil).Once()
	f.messages.On("FindByDedupKey", ctx, "conv-1", "crm-msg-1").Return(nil, repository.ErrMessageNotFound)
	f.messages.On("Create", ctx, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.CRMMessageID == "crm-msg-1" && msg.Type == model.TypeEmail && msg.WamID == ""
	})).Return(&model.Message{ID: "msg-1"}, nil)
	f.conversations.On("ApplyLastMessage", ctx, mock.Anything).Return(nil)

	receipt, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Body:           "line1\nline2",
		Subject:        "Viewing follow-up",
		Channel:        model.ChannelEmail,
	})

	require.NoError(t, err)
	assert.Equal(t, TransportCRM, receipt.Transport)
	f.crm.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestDeliveryService_SendReply_WhatsAppFallsBackToCRM(t *testing.T) {
	f := newDeliveryFixture("provider-42")
	ctx := context.Background()

	loc := &model.Location{ID: "loc-1", CRMAccessToken: "token-1"}
	f.locations.On("Get", ctx, "loc-1").Return(loc, nil)
	f.conversations.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{
		ID:                "conv-1",
		CRMConversationID: "crm-conv-9",
	}, nil)
	f.crm.On("SendMessage", ctx, "token-1", mock.MatchedBy(func(p *gateway.CRMSendRequest) bool {
		return p.Message == "hello" && p.ConversationProviderID == "provider-42"
	})).Return("crm-msg-2", nil)
	f.messages.On("FindByDedupKey", ctx, "conv-1", "crm-msg-2").Return(nil, repository.ErrMessageNotFound)
	f.messages.On("Create", ctx, mock.Anything).Return(&model.Message{ID: "msg-2"}, nil)
	f.conversations.On("ApplyLastMessage", ctx, mock.Anything).Return(nil)

	receipt, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Body:           "hello",
		Channel:        model.ChannelWhatsApp,
	})

	require.NoError(t, err)
	assert.Equal(t, TransportCRM, receipt.Transport)
}

func TestDeliveryService_SendReply_NoTransportAtAll(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	f.locations.On("Get", ctx, "loc-1").Return(&model.Location{ID: "loc-1"}, nil)

	_, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Channel:        model.ChannelWhatsApp,
	})
	assert.ErrorIs(t, err, ErrNoTransportConfigured)
}

func TestDeliveryService_SendReply_LegacyGateway(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	loc := &model.Location{
		ID:                   "loc-1",
		GatewayAccountID:     "acc",
		GatewayAccountSecret: "sec",
		GatewayFromNumber:    "35799000000",
		CRMAccessToken:       "token-1",
	}
	f.locations.On("Get", ctx, "loc-1").Return(loc, nil)
	f.contacts.On("Get", ctx, "loc-1", "contact-1").Return(&model.Contact{
		ID:    "contact-1",
		Phone: "+35799045511",
	}, nil)
	f.conversations.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{ID: "conv-1"}, nil)
	f.legacy.On("SendMessage", ctx, loc, "35799045511", "hello").Return("gw-msg-7", nil)
	f.messages.On("FindByDedupKey", ctx, "conv-1", "gw-msg-7").Return(nil, repository.ErrMessageNotFound)
	f.messages.On("Create", ctx, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.WamID == "gw-msg-7" && msg.Source == model.SourceWebhook
	})).Return(&model.Message{ID: "msg-3"}, nil)
	f.conversations.On("ApplyLastMessage", ctx, mock.Anything).Return(nil)

	receipt, err := f.service.SendReply(ctx, SendReplyRequest{
		LocationID:     "loc-1",
		ConversationID: "conv-1",
		ContactID:      "contact-1",
		Body:           "hello",
		Channel:        model.ChannelWhatsApp,
	})

	require.NoError(t, err)
	assert.Equal(t, TransportLegacyGateway, receipt.Transport)
	// The CRM send path is never attempted after a gateway delivery.
	f.crm.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliveryService_ResendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("rewrites the existing row", func(t *testing.T) {
		f := newDeliveryFixture("")
		f.messages.On("Get", ctx, "loc-1", "msg-1").Return(&model.Message{
			ID:             "msg-1",
			ConversationID: "conv-1",
			Body:           "original body",
			Type:           model.TypeWhatsApp,
			Direction:      model.DirectionOutbound,
			Status:         model.MessageStatusFailed,
		}, nil)
		f.locations.On("Get", ctx, "loc-1").Return(bridgedLocation(), nil)
		f.conversations.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{
			ID:        "conv-1",
			ContactID: "contact-1",
		}, nil)
		f.contacts.On("Get", ctx, "loc-1", "contact-1").Return(&model.Contact{
			ID:    "contact-1",
			Phone: "+35799045511",
		}, nil)
		f.bridge.On("SendText", ctx, "inst-1", "35799045511", "original body").Return("wam-new", nil)
		f.messages.On("UpdateDeliveryConfirmation", ctx, "msg-1", "wam-new", model.MessageStatusSent).Return(nil)

		receipt, err := f.service.ResendMessage(ctx, "loc-1", "msg-1")
		require.NoError(t, err)
		assert.Equal(t, "msg-1", receipt.MessageID)
		f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects inbound messages", func(t *testing.T) {
		f := newDeliveryFixture("")
		f.messages.On("Get", ctx, "loc-1", "msg-2").Return(&model.Message{
			ID:        "msg-2",
			Type:      model.TypeWhatsApp,
			Direction: model.DirectionInbound,
		}, nil)

		_, err := f.service.ResendMessage(ctx, "loc-1", "msg-2")
		assert.ErrorIs(t, err, ErrNotResendable)
	})

	t.Run("rejects non-whatsapp messages", func(t *testing.T) {
		f := newDeliveryFixture("")
		f.messages.On("Get", ctx, "loc-1", "msg-3").Return(&model.Message{
			ID:        "msg-3",
			Type:      model.TypeEmail,
			Direction: model.DirectionOutbound,
		}, nil)

		_, err := f.service.ResendMessage(ctx, "loc-1", "msg-3")
		assert.ErrorIs(t, err, ErrNotResendable)
	})
}

func TestDeliveryService_BridgeStatus_PersistsDrift(t *testing.T) {
	f := newDeliveryFixture("")
	ctx := context.Background()

	loc := bridgedLocation()
	loc.BridgeConnectionStatus = "open"
	f.locations.On("Get", ctx, "loc-1").Return(loc, nil)
	f.bridge.On("FetchInstance", ctx, "inst-1").Return(gateway.ConnectionClosed, nil)
	f.locations.On("UpdateBridgeStatus", ctx, "loc-1", "close").Return(nil)

	state, err := f.service.BridgeStatus(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, gateway.ConnectionClosed, state)
	f.locations.AssertExpectations(t)
}
