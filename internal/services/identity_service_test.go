package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/model"
)

func TestIdentityService_EnsureRemoteContact(t *testing.T) {
	ctx := context.Background()
	loc := &model.Location{
		ID:             "loc-1",
		CRMLocationID:  "crm-loc-1",
		CRMAccessToken: "token-1",
	}

	t.Run("existing id needs no network", func(t *testing.T) {
		contacts := new(MockContactRepository)
		crm := new(MockCRMTransport)
		svc := NewIdentityService(contacts, crm)

		remoteID, err := svc.EnsureRemoteContact(ctx, &model.Contact{
			ID:           "contact-1",
			CRMContactID: "crm-contact-1",
		}, loc)

		require.NoError(t, err)
		assert.Equal(t, "crm-contact-1", remoteID)
		crm.AssertNotCalled(t, "CreateContact", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("creates and links missing identity", func(t *testing.T) {
		contacts := new(MockContactRepository)
		crm := new(MockCRMTransport)
		svc := NewIdentityService(contacts, crm)

		crm.On("CreateContact", ctx, "token-1", mock.MatchedBy(func(req *gateway.CRMContactRequest) bool {
			return req.LocationID == "crm-loc-1" && req.Name == "Andreas" && req.Phone == "+35799045511"
		})).Return("crm-contact-9", nil)
		contacts.On("SetCRMContactID", ctx, "contact-1", "crm-contact-9").Return(nil)

		contact := &model.Contact{
			ID:    "contact-1",
			Name:  "Andreas",
			Phone: "+35799045511",
		}
		remoteID, err := svc.EnsureRemoteContact(ctx, contact, loc)

		require.NoError(t, err)
		assert.Equal(t, "crm-contact-9", remoteID)
		assert.Equal(t, "crm-contact-9", contact.CRMContactID)
		contacts.AssertExpectations(t)
	})

	t.Run("persist failure still returns the remote id", func(t *testing.T) {
		contacts := new(MockContactRepository)
		crm := new(MockCRMTransport)
		svc := NewIdentityService(contacts, crm)

		crm.On("CreateContact", ctx, "token-1", mock.Anything).Return("crm-contact-9", nil)
		contacts.On("SetCRMContactID", ctx, "contact-1", "crm-contact-9").Return(assert.AnError)

		remoteID, err := svc.EnsureRemoteContact(ctx, &model.Contact{ID: "contact-1"}, loc)
		require.NoError(t, err)
		assert.Equal(t, "crm-contact-9", remoteID)
	})

	t.Run("no crm token", func(t *testing.T) {
		svc := NewIdentityService(new(MockContactRepository), new(MockCRMTransport))

		_, err := svc.EnsureRemoteContact(ctx, &model.Contact{ID: "contact-1"}, &model.Location{ID: "loc-2"})
		require.Error(t, err)
	})
}
