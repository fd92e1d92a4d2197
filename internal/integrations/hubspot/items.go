package hubspot

import (
	"context"
	"fmt"
	"strings"

	"github.com/hublink/hublink/internal/logger"
	"go.uber.org/zap"
)

const contactsPath = "/crm/v3/objects/contacts"

// untitledContact is the display name for contacts with no name set.
const untitledContact = "Untitled Contact"

// IntegrationItem is the normalized shape a CRM record is mapped into.
type IntegrationItem struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	CreationTime     string `json:"creation_time,omitempty"`
	LastModifiedTime string `json:"last_modified_time,omitempty"`
}

type contact struct {
	ID         string `json:"id"`
	Properties struct {
		FirstName string `json:"firstname"`
		LastName  string `json:"lastname"`
	} `json:"properties"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type contactsResponse struct {
	Results []contact `json:"results"`
}

// ListContacts fetches CRM contacts with the given access token and maps
// them into IntegrationItems.
func (p *Provider) ListContacts(ctx context.Context, accessToken string) ([]IntegrationItem, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	var resp contactsResponse
	if err := p.requester.GetJSON(ctx, contactsPath, accessToken, &resp); err != nil {
		return nil, err
	}

	items := make([]IntegrationItem, 0, len(resp.Results))
	for _, c := range resp.Results {
		items = append(items, contactToIntegrationItem(c))
	}

	logger.Info("fetched hubspot contacts", zap.Int("count", len(items)))
	return items, nil
}

func contactToIntegrationItem(c contact) IntegrationItem {
	name := strings.TrimSpace(c.Properties.FirstName + " " + c.Properties.LastName)
	if name == "" {
		name = untitledContact
	}

	return IntegrationItem{
		ID:               c.ID,
		Name:             name,
		Type:             "HubSpot Contact",
		CreationTime:     c.CreatedAt,
		LastModifiedTime: c.UpdatedAt,
	}
}
