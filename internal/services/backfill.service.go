package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	gateway "github.com/estio/conversations-gateway/internal/gateways"
	"github.com/estio/conversations-gateway/internal/model"
	"github.com/estio/conversations-gateway/pkg/logger"
	"github.com/estio/conversations-gateway/pkg/prom"
)

const (
	DefaultBackfillPageSize = 20

	// After this many consecutive already-known messages the rest of the
	// page is assumed imported and the loop stops. A full sync disables the
	// heuristic via IgnoreDuplicates.
	DefaultDuplicateLimit = 5

	groupJidSuffix  = "@g.us"
	directJidSuffix = "@s.whatsapp.net"
	lidJidSuffix    = "@lid"

	mediaPlaceholder = "[Media]"
)

type SyncOptions struct {
	PageSize         int
	Offset           int
	IgnoreDuplicates bool
}

type SyncSummary struct {
	Synced  int `json:"count"`
	Skipped int `json:"skipped"`
}

type BackfillLocationRepository interface {
	Get(ctx context.Context, id string) (*model.Location, error)
}

type BackfillConversationRepository interface {
	Get(ctx context.Context, locationID, id string) (*model.Conversation, error)
}

type BackfillContactRepository interface {
	Get(ctx context.Context, locationID, id string) (*model.Contact, error)
}

type HistoryFetcher interface {
	FetchMessages(ctx context.Context, instance, remoteJid string, limit, offset int) ([]gateway.BridgeMessage, error)
}

// BackfillService imports WhatsApp history from the bridge into the local
// store, one page per call, deduplicating against already-known messages.
type BackfillService struct {
	locations      BackfillLocationRepository
	conversations  BackfillConversationRepository
	contacts       BackfillContactRepository
	bridge         HistoryFetcher
	sync           *SyncService
	pageSize       int
	duplicateLimit int
}

func NewBackfillService(
	locations BackfillLocationRepository,
	conversations BackfillConversationRepository,
	contacts BackfillContactRepository,
	bridge HistoryFetcher,
	syncService *SyncService,
	pageSize, duplicateLimit int,
) *BackfillService {
	if pageSize <= 0 {
		pageSize = DefaultBackfillPageSize
	}
	if duplicateLimit <= 0 {
		duplicateLimit = DefaultDuplicateLimit
	}
	return &BackfillService{
		locations:      locations,
		conversations:  conversations,
		contacts:       contacts,
		bridge:         bridge,
		sync:           syncService,
		pageSize:       pageSize,
		duplicateLimit: duplicateLimit,
	}
}

// SyncHistory fetches one page of the conversation's bridge-side thread and
// upserts each message. Per-message failures are swallowed and counted in
// neither bucket; a failed page fetch fails the whole call.
func (s *BackfillService) SyncHistory(ctx context.Context, locationID, conversationID string, opts SyncOptions) (SyncSummary, error) {
	var summary SyncSummary

	loc, err := s.locations.Get(ctx, locationID)
	if err != nil {
		return summary, err
	}
	if !loc.HasBridge() {
		return summary, ErrNoTransportConfigured
	}

	conv, err := s.conversations.Get(ctx, locationID, conversationID)
	if err != nil {
		return summary, err
	}
	contact, err := s.contacts.Get(ctx, locationID, conv.ContactID)
	if err != nil {
		return summary, err
	}
	digits, err := sendablePhone(contact)
	if err != nil {
		return summary, err
	}

	jid := digits + directJidSuffix
	if contact.IsGroup() {
		jid = digits + groupJidSuffix
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	// Pages are assumed newest-first, which is what makes the
	// consecutive-duplicate stop a valid "rest of history is known" signal.
	records, err := s.bridge.FetchMessages(ctx, loc.BridgeInstanceID, jid, pageSize, opts.Offset)
	if err != nil {
		return summary, fmt.Errorf("fetch history: %w", err)
	}

	consecutiveDuplicates := 0
	for _, rec := range records {
		if rec.Key.ID == "" {
			continue
		}
		body := rec.Text()
		if body == "" {
			if !rec.HasMedia() {
				continue
			}
			body = mediaPlaceholder
		}

		direction := model.DirectionInbound
		if rec.Key.FromMe {
			direction = model.DirectionOutbound
		}

		normalized := model.NormalizedMessage{
			LocationID:     loc.ID,
			ConversationID: conv.ID,
			Body:           body,
			Type:           model.TypeWhatsApp,
			WamID:          rec.Key.ID,
			Timestamp:      time.Unix(rec.MessageTimestamp, 0),
			Direction:      direction,
			Source:         model.SourceImport,
			ContactName:    rec.PushName,
			IsGroup:        contact.IsGroup(),
		}
		if contact.IsGroup() && !rec.Key.FromMe {
			normalized.Participant = groupSender(&rec)
		}

		res, err := s.sync.ProcessNormalizedMessage(ctx, normalized)
		if err != nil {
			logger.Warn("backfill item failed", "wam_id", rec.Key.ID, "error", err)
			continue
		}

		if res.Status == StatusSkipped {
			summary.Skipped++
			consecutiveDuplicates++
			if !opts.IgnoreDuplicates && consecutiveDuplicates >= s.duplicateLimit {
				logger.Info("backfill early stop, history already imported",
					"conversation_id", conv.ID,
					"consecutive_duplicates", consecutiveDuplicates)
				break
			}
			continue
		}
		summary.Synced++
		consecutiveDuplicates = 0
	}

	prom.AddBackfillCounts(summary.Synced, summary.Skipped)
	logger.Info("backfill page done",
		"conversation_id", conv.ID,
		"synced", summary.Synced,
		"skipped", summary.Skipped)
	return summary, nil
}

// groupSender resolves the real sender phone of a group message. An explicit
// sender field is trusted first; the participant jid is a fallback because it
// can be a privacy-preserving LID rather than a phone number.
func groupSender(rec *gateway.BridgeMessage) string {
	if rec.Key.SenderPN != "" {
		return strings.TrimSuffix(rec.Key.SenderPN, directJidSuffix)
	}
	participant := rec.Key.Participant
	participant = strings.TrimSuffix(participant, directJidSuffix)
	participant = strings.TrimSuffix(participant, lidJidSuffix)
	return participant
}
