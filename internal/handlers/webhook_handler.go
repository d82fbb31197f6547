package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"crmsync/internal/adapters/provider"
	"crmsync/internal/models"
	"crmsync/internal/services"
)

// WebhookHandler ingests live message events pushed by the provider, so
// conversations stay current between full syncs. Events whose sender
// matches a known record's identifiers are attached to that record
// immediately; unmatched messages are stored unattached and picked up by
// the linking pass of the next sync.
type WebhookHandler struct {
	db        *gorm.DB
	extractor *services.IdentifierExtractor
	convStore *services.ConversationStore
	msgStore  *services.MessageStore
	secret    string
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(db *gorm.DB, extractor *services.IdentifierExtractor, convStore *services.ConversationStore, msgStore *services.MessageStore, secret string) *WebhookHandler {
	if db == nil {
		log.Fatal().Msg("Database instance cannot be nil for WebhookHandler")
	}
	if extractor == nil {
		log.Fatal().Msg("IdentifierExtractor cannot be nil for WebhookHandler")
	}
	if convStore == nil || msgStore == nil {
		log.Fatal().Msg("Stores cannot be nil for WebhookHandler")
	}
	return &WebhookHandler{db: db, extractor: extractor, convStore: convStore, msgStore: msgStore, secret: secret}
}

type providerEvent struct {
	Event     string           `json:"event"`
	AccountID string           `json:"account_id"`
	ChatID    string           `json:"chat_id,omitempty"`
	ThreadID  string           `json:"thread_id,omitempty"`
	Message   provider.RawItem `json:"message"`
}

func (h *WebhookHandler) validSecret(r *http.Request) bool {
	if h.secret == "" {
		log.Warn().Msg("Webhook secret is not configured. Skipping validation.")
		return true
	}
	return r.Header.Get("X-Webhook-Secret") == h.secret
}

// Handle processes one pushed provider event.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.validSecret(r) {
		log.Warn().Msg("Invalid webhook secret")
		respondError(w, http.StatusUnauthorized, "Invalid secret")
		return
	}

	var event providerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Error().Err(err).Msg("Failed to decode provider event payload")
		respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if event.AccountID == "" || len(event.Message) == 0 {
		respondError(w, http.StatusBadRequest, "account_id and message are required")
		return
	}

	var channel models.Channel
	err := h.db.Where("account_id = ? AND enabled = ?", event.AccountID, true).First(&channel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("accountID", event.AccountID).Msg("Event for unknown or disabled channel, dropping")
			// Acknowledged so the provider does not retry.
			respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Error().Err(err).Str("accountID", event.AccountID).Msg("Failed to look up channel")
		respondError(w, http.StatusInternalServerError, "Failed to look up channel")
		return
	}

	var data services.MessageData
	threadID := event.ChatID
	if channel.ChannelType.IsEmail() {
		data = services.MessageFromEmail(event.Message, channel.AccountID)
		if event.ThreadID != "" {
			threadID = event.ThreadID
		} else {
			threadID = event.Message.Str("thread_id")
		}
	} else {
		data = services.MessageFromChat(event.Message)
		if threadID == "" {
			threadID = event.Message.Str("chat_id")
		}
	}
	if threadID == "" {
		respondError(w, http.StatusBadRequest, "Event carries no thread or chat ID")
		return
	}

	// Match the sender back to a record if its identifier is known.
	recordID := ""
	if data.SenderIdentifier != "" {
		recordIDs, err := h.extractor.FindRecordsByIdentifiers([]string{data.SenderIdentifier})
		if err != nil {
			log.Warn().Err(err).Str("identifier", data.SenderIdentifier).Msg("Reverse identifier lookup failed, storing unattached")
		} else if len(recordIDs) > 0 {
			recordID = recordIDs[0]
		}
	}

	conv, err := h.convStore.Store(services.ConversationData{ExternalThreadID: threadID}, &channel, recordID)
	if err != nil {
		log.Error().Err(err).Str("threadID", threadID).Msg("Failed to store conversation from event")
		respondError(w, http.StatusInternalServerError, "Failed to store conversation")
		return
	}

	cache := services.NewParticipantCache(h.db)
	inserted, err := h.msgStore.StoreBatch(conv, &channel, []services.MessageData{data}, cache)
	if err != nil {
		log.Error().Err(err).Str("threadID", threadID).Msg("Failed to store message from event")
		respondError(w, http.StatusInternalServerError, "Failed to store message")
		return
	}

	log.Info().
		Str("event", event.Event).
		Str("accountID", event.AccountID).
		Str("threadID", threadID).
		Str("recordID", recordID).
		Int("inserted", inserted).
		Msg("Provider event ingested")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "stored",
		"inserted":  inserted,
		"record_id": recordID,
	})
}
