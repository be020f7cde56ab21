package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/logger"
)

var (
	ErrNoAvailableProviders = errors.New("no available providers")
	ErrGatewayNoMessageID   = errors.New("gateway returned no message id")
)

const (
	providerCooldownThreshold = 3
	providerCooldown          = 30 * time.Second
)

type legacySendRequest struct {
	AccountID string `json:"account_id"`
	Secret    string `json:"secret"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

type legacySendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// legacyProvider is one interchangeable gateway endpoint. A short cooldown
// after repeated failures keeps a dead endpoint from absorbing every send.
type legacyProvider struct {
	name             string
	url              string
	client           *fasthttp.Client
	consecutiveFails atomic.Int32
	cooldownUntil    atomic.Int64
}

func (p *legacyProvider) available() bool {
	return time.Now().Unix() > p.cooldownUntil.Load()
}

func (p *legacyProvider) recordSuccess() {
	p.consecutiveFails.Store(0)
}

func (p *legacyProvider) recordFailure() {
	if p.consecutiveFails.Add(1) >= providerCooldownThreshold {
		p.cooldownUntil.Store(time.Now().Add(providerCooldown).Unix())
		logger.Warn("legacy gateway provider cooling down", "provider", p.name, "cooldown", providerCooldown)
	}
}

// LegacyGatewayClient sends WhatsApp messages through the legacy SMS-gateway
// API when a tenant has gateway credentials but no bridge instance. Providers
// are tried in configured order; the first confirmed send wins.
type LegacyGatewayClient struct {
	providers []*legacyProvider
	timeout   time.Duration
}

func NewLegacyGatewayClient(primaryURL, secondaryURL string, timeout time.Duration) *LegacyGatewayClient {
	c := &LegacyGatewayClient{timeout: timeout}

	for _, endpoint := range []struct{ name, url string }{
		{"primary", primaryURL},
		{"secondary", secondaryURL},
	} {
		if endpoint.url == "" {
			continue
		}
		c.providers = append(c.providers, &legacyProvider{
			name: endpoint.name,
			url:  endpoint.url,
			client: &fasthttp.Client{
				ReadTimeout:         timeout,
				WriteTimeout:        timeout,
				MaxIdleConnDuration: 60 * time.Second,
			},
		})
		logger.Info("legacy gateway provider initialized", "name", endpoint.name, "url", endpoint.url)
	}

	return c
}

// SendMessage delivers one message using the tenant's gateway credentials and
// returns the provider message id.
func (c *LegacyGatewayClient) SendMessage(ctx context.Context, loc *model.Location, phone, body string) (string, error) {
	reqBody, err := json.Marshal(&legacySendRequest{
		AccountID: loc.GatewayAccountID,
		Secret:    loc.GatewayAccountSecret,
		From:      loc.GatewayFromNumber,
		To:        phone,
		Body:      body,
	})
	if err != nil {
		return "", err
	}

	var lastErr error = ErrNoAvailableProviders
	for _, provider := range c.providers {
		if !provider.available() {
			continue
		}

		resp, err := c.doRequest(ctx, provider, reqBody)
		if err != nil {
			provider.recordFailure()
			logger.Warn("legacy gateway send failed", "provider", provider.name, "error", err)
			lastErr = err
			continue
		}
		provider.recordSuccess()

		var result legacySendResponse
		if err := json.Unmarshal(resp, &result); err != nil {
			return "", fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if result.MessageID == "" {
			return "", ErrGatewayNoMessageID
		}

		logger.Info("message sent via legacy gateway", "provider", provider.name, "message_id", result.MessageID)
		return result.MessageID, nil
	}

	return "", lastErr
}

func (c *LegacyGatewayClient) doRequest(ctx context.Context, provider *legacyProvider, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(provider.url + "/api/v1/messages")
	req.Header.SetMethod("POST")
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	if err := provider.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
