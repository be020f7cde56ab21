package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fasthttp/router"

	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/internal/repository"
	"github.com/estio/conversations-gateway/internal/services"
	xhttp "github.com/estio/conversations-gateway/pkg/http"
)

type ConversationService interface {
	List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error)
	Get(ctx context.Context, locationID, id string) (*model.Conversation, error)
	ListMessages(ctx context.Context, locationID, conversationID string) ([]*model.Message, error)
	Archive(ctx context.Context, locationID string, ids []string) (int64, error)
	Unarchive(ctx context.Context, locationID string, ids []string) (int64, error)
	Delete(ctx context.Context, locationID string, ids []string, deletedBy string) (int64, error)
	Restore(ctx context.Context, locationID string, ids []string) (int64, error)
	Purge(ctx context.Context, locationID string, ids []string) (int64, error)
	EmptyTrash(ctx context.Context, locationID string) (int64, error)
}

type DeliveryService interface {
	SendReply(ctx context.Context, req services.SendReplyRequest) (*services.SendReceipt, error)
	ResendMessage(ctx context.Context, locationID, messageID string) (*services.SendReceipt, error)
	BridgeStatus(ctx context.Context, locationID string) (gateway.ConnectionState, error)
}

type BackfillService interface {
	SyncHistory(ctx context.Context, locationID, conversationID string, opts services.SyncOptions) (services.SyncSummary, error)
}

type ConversationHandler struct {
	conversations ConversationService
	delivery      DeliveryService
	backfill      BackfillService
}

func RegisterConversationRoutes(e *router.Group, h *ConversationHandler) {
	e.GET("/conversations", h.ListConversations)
	e.GET("/conversations/{id}", h.GetConversation)
	e.GET("/conversations/{id}/messages", h.ListMessages)
	e.POST("/conversations/{id}/reply", h.SendReply)
	e.POST("/conversations/{id}/sync", h.SyncHistory)
	e.POST("/conversations/archive", h.Archive)
	e.POST("/conversations/unarchive", h.Unarchive)
	e.POST("/conversations/delete", h.Delete)
	e.POST("/conversations/restore", h.Restore)
	e.POST("/conversations/purge", h.Purge)
	e.DELETE("/conversations/trash", h.EmptyTrash)
	e.POST("/messages/{id}/resend", h.ResendMessage)
	e.GET("/whatsapp/status", h.BridgeStatus)
}

func NewConversationHandler(conversations ConversationService, delivery DeliveryService, backfill BackfillService) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		delivery:      delivery,
		backfill:      backfill,
	}
}

type bulkRequest struct {
	LocationID      string   `json:"location_id"`
	ConversationIDs []string `json:"conversation_ids"`
	DeletedBy       string   `json:"deleted_by"`
}

type bulkResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

type sendReplyRequest struct {
	LocationID string `json:"location_id"`
	ContactID  string `json:"contact_id"`
	Body       string `json:"body"`
	Subject    string `json:"subject"`
	Channel    string `json:"channel"`
}

type sendReplyResponse struct {
	Success   bool               `json:"success"`
	MessageID string             `json:"message_id"`
	Transport services.Transport `json:"transport"`
}

type syncHistoryResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
	Skipped int  `json:"skipped"`
}

type listConversationsResponse struct {
	Items []*model.Conversation `json:"items"`
	Total int64                 `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *ConversationHandler) ListConversations(ctx *xhttp.RequestCtx) {
	locationID := query(ctx, "location_id")
	if locationID == "" {
		writeError(ctx, 400, "location_id is required")
		return
	}

	f := model.ConversationFilter{LocationID: locationID}
	if v := query(ctx, "state"); v != "" {
		state := model.LifecycleState(v)
		f.State = &state
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.conversations.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listConversationsResponse{Items: items, Total: total})
}

func (h *ConversationHandler) GetConversation(ctx *xhttp.RequestCtx) {
	conv, err := h.conversations.Get(ctx, query(ctx, "location_id"), param(ctx, "id"))
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, 200, conv)
}

func (h *ConversationHandler) ListMessages(ctx *xhttp.RequestCtx) {
	msgs, err := h.conversations.ListMessages(ctx, query(ctx, "location_id"), param(ctx, "id"))
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]any{"items": msgs})
}

func (h *ConversationHandler) SendReply(ctx *xhttp.RequestCtx) {
	var req sendReplyRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Body == "" {
		writeError(ctx, 400, "body is required")
		return
	}

	channel := model.ChannelType(req.Channel)
	if channel == "" {
		channel = model.ChannelWhatsApp
	}

	receipt, err := h.delivery.SendReply(ctx, services.SendReplyRequest{
		LocationID:     req.LocationID,
		ConversationID: param(ctx, "id"),
		ContactID:      req.ContactID,
		Body:           req.Body,
		Subject:        req.Subject,
		Channel:        channel,
	})
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, 201, sendReplyResponse{Success: true, MessageID: receipt.MessageID, Transport: receipt.Transport})
}

func (h *ConversationHandler) ResendMessage(ctx *xhttp.RequestCtx) {
	receipt, err := h.delivery.ResendMessage(ctx, query(ctx, "location_id"), param(ctx, "id"))
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, 200, sendReplyResponse{Success: true, MessageID: receipt.MessageID, Transport: receipt.Transport})
}

func (h *ConversationHandler) SyncHistory(ctx *xhttp.RequestCtx) {
	var req struct {
		LocationID       string `json:"location_id"`
		PageSize         int    `json:"page_size"`
		Offset           int    `json:"offset"`
		IgnoreDuplicates bool   `json:"ignore_duplicates"`
	}
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	summary, err := h.backfill.SyncHistory(ctx, req.LocationID, param(ctx, "id"), services.SyncOptions{
		PageSize:         req.PageSize,
		Offset:           req.Offset,
		IgnoreDuplicates: req.IgnoreDuplicates,
	})
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, 200, syncHistoryResponse{Success: true, Count: summary.Synced, Skipped: summary.Skipped})
}

func (h *ConversationHandler) BridgeStatus(ctx *xhttp.RequestCtx) {
	state, err := h.delivery.BridgeStatus(ctx, query(ctx, "location_id"))
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": string(state)})
}

func (h *ConversationHandler) Archive(ctx *xhttp.RequestCtx) {
	h.bulk(ctx, func(req bulkRequest) (int64, error) {
		return h.conversations.Archive(ctx, req.LocationID, req.ConversationIDs)
	})
}

func (h *ConversationHandler) Unarchive(ctx *xhttp.RequestCtx) {
	h.bulk(ctx, func(req bulkRequest) (int64, error) {
		return h.conversations.Unarchive(ctx, req.LocationID, req.ConversationIDs)
	})
}

func (h *ConversationHandler) Delete(ctx *xhttp.RequestCtx) {
	h.bulk(ctx, func(req bulkRequest) (int64, error) {
		return h.conversations.Delete(ctx, req.LocationID, req.ConversationIDs, req.DeletedBy)
	})
}

func (h *ConversationHandler) Restore(ctx *xhttp.RequestCtx) {
	h.bulk(ctx, func(req bulkRequest) (int64, error) {
		return h.conversations.Restore(ctx, req.LocationID, req.ConversationIDs)
	})
}

func (h *ConversationHandler) Purge(ctx *xhttp.RequestCtx) {
	h.bulk(ctx, func(req bulkRequest) (int64, error) {
		return h.conversations.Purge(ctx, req.LocationID, req.ConversationIDs)
	})
}

func (h *ConversationHandler) EmptyTrash(ctx *xhttp.RequestCtx) {
	locationID := query(ctx, "location_id")
	if locationID == "" {
		writeError(ctx, 400, "location_id is required")
		return
	}
	count, err := h.conversations.EmptyTrash(ctx, locationID)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, bulkResponse{Success: true, Count: count})
}

func (h *ConversationHandler) bulk(ctx *xhttp.RequestCtx, op func(bulkRequest) (int64, error)) {
	var req bulkRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.LocationID == "" {
		writeError(ctx, 400, "location_id is required")
		return
	}

	count, err := op(req)
	if err != nil {
		writeError(ctx, statusFor(err), err.Error())
		return
	}
	writeJSON(ctx, 200, bulkResponse{Success: true, Count: count})
}

/* -------------------------------- Helpers ----------------------------------- */

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrMessageNotFound),
		errors.Is(err, repository.ErrLocationNotFound),
		errors.Is(err, services.ErrContactNotFound):
		return 404
	case errors.Is(err, services.ErrTransportDisconnected):
		return 409
	case errors.Is(err, services.ErrTransportFailed),
		errors.Is(err, services.ErrUnconfirmedSend):
		return 502
	default:
		return 400
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]any{"success": false, "error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func param(ctx *xhttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}
