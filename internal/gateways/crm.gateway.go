package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/estio/conversations-gateway/pkg/logger"
)

var (
	ErrCRMNoMessageID = errors.New("crm returned no message id")
	ErrCRMNoContactID = errors.New("crm returned no contact id")
)

// CRMSendRequest is the payload for the CRM's native send endpoint. Email
// sends carry an HTML body plus sender identity; every other channel uses the
// plain Message field. ConversationProviderID routes the message through a
// custom channel registered on the CRM side.
type CRMSendRequest struct {
	Type                   string `json:"type"`
	ConversationID         string `json:"conversationId"`
	ContactID              string `json:"contactId,omitempty"`
	Message                string `json:"message,omitempty"`
	HTML                   string `json:"html,omitempty"`
	Subject                string `json:"subject,omitempty"`
	EmailFrom              string `json:"emailFrom,omitempty"`
	EmailFromName          string `json:"emailFromName,omitempty"`
	ConversationProviderID string `json:"conversationProviderId,omitempty"`
}

type CRMContactRequest struct {
	LocationID string `json:"locationId"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type CRMClient struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewCRMClient(baseURL string, timeout time.Duration) *CRMClient {
	return &CRMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// SendMessage pushes one message into a CRM conversation and returns the
// remote message id. The access token is per-tenant, so it travels with the
// call rather than living on the client.
func (c *CRMClient) SendMessage(ctx context.Context, accessToken string, payload *CRMSendRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err := c.doRequest(ctx, accessToken, "POST", "/conversations/messages", body)
	if err != nil {
		return "", err
	}

	var result struct {
		MessageID      string `json:"messageId"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal send response: %w", err)
	}
	if result.MessageID == "" {
		return "", ErrCRMNoMessageID
	}

	logger.Debug("crm message pushed", "conversation_id", payload.ConversationID, "message_id", result.MessageID)
	return result.MessageID, nil
}

// CreateContact registers a contact on the CRM side and returns its remote id.
func (c *CRMClient) CreateContact(ctx context.Context, accessToken string, req *CRMContactRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	resp, err := c.doRequest(ctx, accessToken, "POST", "/contacts", body)
	if err != nil {
		return "", err
	}

	var result struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal contact response: %w", err)
	}

	id := result.Contact.ID
	if id == "" {
		id = result.ID
	}
	if id == "" {
		return "", ErrCRMNoContactID
	}
	return id, nil
}

func (c *CRMClient) doRequest(ctx context.Context, accessToken, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
