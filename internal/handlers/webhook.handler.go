package handlers

import (
	"context"

	"github.com/fasthttp/router"

	"github.com/estio/conversations-gateway/internal/services"
	xhttp "github.com/estio/conversations-gateway/pkg/http"
	"github.com/estio/conversations-gateway/pkg/logger"
)

type WebhookService interface {
	HandleBridgeEvent(ctx context.Context, event *services.BridgeWebhookEvent) (services.SyncResult, error)
}

type WebhookHandler struct {
	svc WebhookService
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/bridge", h.HandleBridgeEvent)
}

func NewWebhookHandler(svc WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// HandleBridgeEvent acknowledges with 200 even on processing failures; the
// bridge retries 4xx/5xx responses and a poison event would be redelivered
// forever.
func (h *WebhookHandler) HandleBridgeEvent(ctx *xhttp.RequestCtx) {
	var event services.BridgeWebhookEvent
	if err := readJSON(ctx, &event); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	res, err := h.svc.HandleBridgeEvent(ctx, &event)
	if err != nil {
		logger.Warn("webhook event failed", "event", event.Event, "instance", event.Instance, "error", err)
		writeJSON(ctx, 200, map[string]string{"status": "ignored"})
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": string(res.Status)})
}
