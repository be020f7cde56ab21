package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/valyala/fasthttp"

	"github.com/estio/conversations-gateway/pkg/logger"
)

var (
	ErrBridgeUnavailable = errors.New("bridge unavailable")
)

// ConnectionState is the single tagged value the rest of the service sees.
// The bridge reports connection status under several field names and shapes
// depending on its version; normalization happens here, at the client
// boundary, and nowhere else.
type ConnectionState string

const (
	ConnectionOpen       ConnectionState = "open"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionClosed     ConnectionState = "close"
	ConnectionUnknown    ConnectionState = "unknown"
)

func normalizeConnectionState(raw string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected":
		return ConnectionOpen
	case "connecting", "qrcode":
		return ConnectionConnecting
	case "close", "closed", "disconnected":
		return ConnectionClosed
	default:
		return ConnectionUnknown
	}
}

// BridgeMessage is one raw history record as the bridge returns it.
type BridgeMessage struct {
	Key struct {
		ID          string `json:"id"`
		RemoteJid   string `json:"remoteJid"`
		FromMe      bool   `json:"fromMe"`
		Participant string `json:"participant"`
		SenderPN    string `json:"senderPn"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage    json.RawMessage `json:"imageMessage"`
		VideoMessage    json.RawMessage `json:"videoMessage"`
		AudioMessage    json.RawMessage `json:"audioMessage"`
		DocumentMessage json.RawMessage `json:"documentMessage"`
		StickerMessage  json.RawMessage `json:"stickerMessage"`
	} `json:"message"`
	MessageTimestamp int64 `json:"messageTimestamp"`
}

// Text returns the message body: plain conversation text, extended text, or
// empty when the record carries no textual content.
func (m *BridgeMessage) Text() string {
	if m.Message.Conversation != "" {
		return m.Message.Conversation
	}
	return m.Message.ExtendedTextMessage.Text
}

// HasMedia reports whether the record carries a media payload instead of text.
func (m *BridgeMessage) HasMedia() bool {
	return len(m.Message.ImageMessage) > 0 ||
		len(m.Message.VideoMessage) > 0 ||
		len(m.Message.AudioMessage) > 0 ||
		len(m.Message.DocumentMessage) > 0 ||
		len(m.Message.StickerMessage) > 0
}

type BridgeClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewBridgeClient(baseURL, apiKey string, timeout time.Duration) *BridgeClient {
	return &BridgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// SendText delivers one text message through the named instance and returns
// the bridge's confirmation id. An empty id with a nil error means the bridge
// accepted the request but confirmed nothing; callers decide how to treat it.
func (c *BridgeClient) SendText(ctx context.Context, instance, phone, text string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"number": phone,
		"text":   text,
		"options": map[string]interface{}{
			"delay":       1200,
			"presence":    "composing",
			"linkPreview": false,
		},
	})
	if err != nil {
		return "", err
	}

	resp, err := c.doRequest(ctx, "POST", "/message/sendText/"+instance, body)
	if err != nil {
		return "", err
	}

	var confirmation struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := json.Unmarshal(resp, &confirmation); err != nil {
		return "", fmt.Errorf("failed to unmarshal send response: %w", err)
	}
	return confirmation.Key.ID, nil
}

// FetchMessages loads one page of history for a thread. Read-only, so
// transient bridge failures are retried with exponential backoff.
func (c *BridgeClient) FetchMessages(ctx context.Context, instance, remoteJid string, limit, offset int) ([]BridgeMessage, error) {
	body, err := json.Marshal(map[string]interface{}{
		"where": map[string]interface{}{
			"key": map[string]interface{}{
				"remoteJid": remoteJid,
			},
		},
		"limit":  limit,
		"offset": offset,
	})
	if err != nil {
		return nil, err
	}

	var resp []byte
	operation := func() error {
		var reqErr error
		resp, reqErr = c.doRequest(ctx, "POST", "/chat/findMessages/"+instance, body)
		return reqErr
	}
	if err := backoff.Retry(operation, c.readBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBridgeUnavailable, err)
	}

	return decodeMessageRecords(resp)
}

// decodeMessageRecords handles the two shapes the bridge uses for history
// pages: an envelope with messages.records, or a bare array.
func decodeMessageRecords(resp []byte) ([]BridgeMessage, error) {
	var envelope struct {
		Messages *struct {
			Records []BridgeMessage `json:"records"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(resp, &envelope); err == nil && envelope.Messages != nil {
		return envelope.Messages.Records, nil
	}

	var records []BridgeMessage
	if err := json.Unmarshal(resp, &records); err == nil {
		return records, nil
	}
	// A response matching neither shape must not pass for an empty page.
	return nil, fmt.Errorf("%w: unrecognized history page: %.200s", ErrBridgeUnavailable, resp)
}

// FetchInstance probes the live connection state of an instance. The response
// may be a single object or an array of instances, and the status may appear
// as instance.status, instance.state or a top-level connectionStatus.
func (c *BridgeClient) FetchInstance(ctx context.Context, instance string) (ConnectionState, error) {
	var resp []byte
	operation := func() error {
		var reqErr error
		resp, reqErr = c.doRequest(ctx, "GET", "/instance/fetchInstances?instanceName="+instance, nil)
		return reqErr
	}
	if err := backoff.Retry(operation, c.readBackoff(ctx)); err != nil {
		return ConnectionUnknown, fmt.Errorf("%w: %s", ErrBridgeUnavailable, err)
	}

	state := decodeInstanceState(resp, instance)
	logger.Debug("bridge instance probed", "instance", instance, "state", string(state))
	return state, nil
}

type instanceRecord struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		Status       string `json:"status"`
		State        string `json:"state"`
	} `json:"instance"`
	ConnectionStatus string `json:"connectionStatus"`
	Status           string `json:"status"`
}

func (r *instanceRecord) state() ConnectionState {
	for _, raw := range []string{r.Instance.Status, r.Instance.State, r.ConnectionStatus, r.Status} {
		if raw != "" {
			return normalizeConnectionState(raw)
		}
	}
	return ConnectionUnknown
}

func decodeInstanceState(resp []byte, instance string) ConnectionState {
	var records []instanceRecord
	if err := json.Unmarshal(resp, &records); err == nil {
		for _, r := range records {
			if r.Instance.InstanceName == instance {
				return r.state()
			}
		}
		if len(records) > 0 {
			return records[0].state()
		}
		return ConnectionUnknown
	}

	var record instanceRecord
	if err := json.Unmarshal(resp, &record); err == nil {
		return record.state()
	}
	return ConnectionUnknown
}

func (c *BridgeClient) readBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.timeout
	return backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)
}

func (c *BridgeClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("apikey", c.apiKey)

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
