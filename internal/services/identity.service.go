package services

import (
	"context"
	"fmt"

	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/logger"
)

type IdentityContactRepository interface {
	SetCRMContactID(ctx context.Context, id, crmContactID string) error
}

type CRMContactCreator interface {
	CreateContact(ctx context.Context, accessToken string, req *gateway.CRMContactRequest) (string, error)
}

// IdentityService creates remote CRM contacts just in time: only when a
// message has to be mirrored and the local contact has no remote identity
// yet. It is only ever called from the detached mirror step, never on a
// request's critical path.
type IdentityService struct {
	contacts IdentityContactRepository
	crm      CRMContactCreator
}

func NewIdentityService(contacts IdentityContactRepository, crm CRMContactCreator) *IdentityService {
	return &IdentityService{
		contacts: contacts,
		crm:      crm,
	}
}

// EnsureRemoteContact returns the contact's CRM id, creating one remotely
// when absent. An error means the caller should skip the mirror, nothing
// more; local delivery already succeeded.
func (s *IdentityService) EnsureRemoteContact(ctx context.Context, contact *model.Contact, loc *model.Location) (string, error) {
	if contact.CRMContactID != "" {
		return contact.CRMContactID, nil
	}
	if !loc.HasCRM() {
		return "", fmt.Errorf("location %s has no crm access token", loc.ID)
	}

	remoteID, err := s.crm.CreateContact(ctx, loc.CRMAccessToken, &gateway.CRMContactRequest{
		LocationID: loc.CRMLocationID,
		Name:       contact.Name,
		Phone:      contact.Phone,
		Email:      contact.Email,
	})
	if err != nil {
		return "", fmt.Errorf("create crm contact: %w", err)
	}

	if err := s.contacts.SetCRMContactID(ctx, contact.ID, remoteID); err != nil {
		// The remote contact exists; losing the local link only means one
		// extra creation attempt next time.
		logger.Warn("failed to persist crm contact id", "contact_id", contact.ID, "error", err)
	}
	contact.CRMContactID = remoteID

	logger.Info("crm contact created", "contact_id", contact.ID, "crm_contact_id", remoteID)
	return remoteID, nil
}
