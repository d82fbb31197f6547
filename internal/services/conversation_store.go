package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"crmsync/internal/models"
)

// ConversationStore upserts conversations by their natural key
// (external thread ID, channel).
type ConversationStore struct {
	db *gorm.DB
}

// NewConversationStore creates a ConversationStore.
func NewConversationStore(db *gorm.DB) (*ConversationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil for ConversationStore")
	}
	return &ConversationStore{db: db}, nil
}

// Store gets or creates the conversation for data. On create, sync-status
// metadata is initialized; on update, metadata is merged additively and
// LastMessageAt keeps the most recent value. Mutable fields are
// last-write-wins.
func (s *ConversationStore) Store(data ConversationData, channel *models.Channel, recordID string) (*models.Conversation, error) {
	if data.ExternalThreadID == "" {
		return nil, fmt.Errorf("conversation data has no external thread ID")
	}
	if channel == nil {
		return nil, fmt.Errorf("channel cannot be nil")
	}

	var conv models.Conversation
	err := s.db.Where("external_thread_id = ? AND channel_id = ?", data.ExternalThreadID, channel.ID).First(&conv).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to query conversation: %w", err)
		}

		metadata := map[string]interface{}{
			"first_synced_at": time.Now().UTC().Format(time.RFC3339),
			"channel_type":    string(channel.ChannelType),
		}
		for k, v := range data.Metadata {
			metadata[k] = v
		}
		conv = models.Conversation{
			ExternalThreadID: data.ExternalThreadID,
			ChannelID:        channel.ID,
			RecordID:         recordID,
			Subject:          data.Subject,
			LastMessageAt:    data.LastMessageAt,
			UnreadCount:      data.UnreadCount,
			Metadata:         metadata,
		}
		if err := s.db.Create(&conv).Error; err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		log.Debug().Str("threadID", data.ExternalThreadID).Uint("channelID", channel.ID).Msg("Conversation created")
		return &conv, nil
	}

	if data.Subject != "" {
		conv.Subject = data.Subject
	}
	if data.LastMessageAt != nil && (conv.LastMessageAt == nil || data.LastMessageAt.After(*conv.LastMessageAt)) {
		conv.LastMessageAt = data.LastMessageAt
	}
	conv.UnreadCount = data.UnreadCount
	if conv.RecordID == "" {
		conv.RecordID = recordID
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]interface{}{}
	}
	for k, v := range data.Metadata {
		conv.Metadata[k] = v
	}

	if err := s.db.Save(&conv).Error; err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return &conv, nil
}
