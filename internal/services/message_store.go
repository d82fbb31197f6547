package services

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmsync/internal/models"
)

// ParticipantCache is the shared identifier-to-participant map built once
// per sync run. Resolving participants message-by-message would race
// duplicate rows into the participants table and repeat lookups; instead
// all messages of a batch are scanned first and every distinct sender is
// get-or-created exactly once.
type ParticipantCache struct {
	db    *gorm.DB
	byKey map[string]*models.Participant
}

// NewParticipantCache creates an empty cache for one sync run.
func NewParticipantCache(db *gorm.DB) *ParticipantCache {
	return &ParticipantCache{db: db, byKey: make(map[string]*models.Participant)}
}

func participantKey(identifier string, idType models.IdentifierType) string {
	return string(idType) + ":" + identifier
}

// Prime scans a message batch and get-or-creates a Participant row for
// every distinct sender identifier not already cached.
func (c *ParticipantCache) Prime(messages []MessageData) error {
	for _, msg := range messages {
		if msg.SenderIdentifier == "" || msg.IsAccountOwner {
			continue
		}
		key := participantKey(msg.SenderIdentifier, msg.SenderIdentifierType)
		if _, ok := c.byKey[key]; ok {
			continue
		}

		participant := models.Participant{
			Identifier:     msg.SenderIdentifier,
			IdentifierType: msg.SenderIdentifierType,
			DisplayName:    msg.SenderName,
		}
		// Participants are shared across records; a SELECT-then-INSERT
		// get-or-create races when two records sync the same counterpart
		// concurrently, so the insert rides the unique index instead.
		result := c.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identifier"}, {Name: "identifier_type"}},
			DoNothing: true,
		}).Create(&participant)
		if result.Error != nil {
			return fmt.Errorf("failed to get-or-create participant %s: %w", msg.SenderIdentifier, result.Error)
		}
		if result.RowsAffected == 0 {
			err := c.db.Where("identifier = ? AND identifier_type = ?", msg.SenderIdentifier, msg.SenderIdentifierType).
				First(&participant).Error
			if err != nil {
				return fmt.Errorf("failed to load existing participant %s: %w", msg.SenderIdentifier, err)
			}

			// Backfill a display name learned later in the batch.
			if participant.DisplayName == "" && msg.SenderName != "" {
				participant.DisplayName = msg.SenderName
				if err := c.db.Model(&participant).Update("display_name", msg.SenderName).Error; err != nil {
					log.Warn().Err(err).Str("identifier", msg.SenderIdentifier).Msg("Failed to backfill participant display name")
				}
			}
		}

		stored := participant
		c.byKey[key] = &stored
	}
	return nil
}

// Get returns the cached participant for an identifier, or nil.
func (c *ParticipantCache) Get(identifier string, idType models.IdentifierType) *models.Participant {
	return c.byKey[participantKey(identifier, idType)]
}

// All returns every cached participant.
func (c *ParticipantCache) All() []*models.Participant {
	out := make([]*models.Participant, 0, len(c.byKey))
	for _, p := range c.byKey {
		out = append(out, p)
	}
	return out
}

// MessageStore bulk-writes messages referencing the run's participant
// cache. Inserts are idempotent on (conversation, external message ID).
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a MessageStore.
func NewMessageStore(db *gorm.DB) (*MessageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil for MessageStore")
	}
	return &MessageStore{db: db}, nil
}

// StoreBatch writes a conversation's messages, wiring each to its sender
// participant from the cache, and refreshes the conversation's message
// count and recency. Returns the number of newly inserted messages.
func (s *MessageStore) StoreBatch(conv *models.Conversation, channel *models.Channel, messages []MessageData, cache *ParticipantCache) (int, error) {
	if conv == nil {
		return 0, fmt.Errorf("conversation cannot be nil")
	}
	if cache == nil {
		return 0, fmt.Errorf("participant cache cannot be nil")
	}
	if err := cache.Prime(messages); err != nil {
		return 0, err
	}

	inserted := 0
	participantsSeen := make(map[uint]bool)

	for _, data := range messages {
		if data.ExternalMessageID == "" {
			log.Debug().Uint("conversationID", conv.ID).Msg("Message without external ID, skipping")
			continue
		}

		row := models.Message{
			ConversationID:    conv.ID,
			ChannelID:         channel.ID,
			ExternalMessageID: data.ExternalMessageID,
			Direction:         data.Direction,
			Status:            data.Status,
			Body:              data.Body,
			SenderName:        data.SenderName,
			SentAt:            data.SentAt,
			Metadata:          data.Metadata,
		}
		if !data.IsAccountOwner {
			if participant := cache.Get(data.SenderIdentifier, data.SenderIdentifierType); participant != nil {
				row.SenderParticipantID = &participant.ID
				participantsSeen[participant.ID] = true
			}
		}

		result := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "external_message_id"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return inserted, fmt.Errorf("failed to insert message %s: %w", data.ExternalMessageID, result.Error)
		}
		inserted += int(result.RowsAffected)

		// A re-seen message may carry a later delivery state.
		if result.RowsAffected == 0 && data.Status != "" {
			s.advanceStatus(conv.ID, data.ExternalMessageID, data.Status)
		}

		if data.SentAt != nil && (conv.LastMessageAt == nil || data.SentAt.After(*conv.LastMessageAt)) {
			conv.LastMessageAt = data.SentAt
		}
	}

	// Join rows for every counterpart participant seen in the batch.
	for participantID := range participantsSeen {
		join := models.ConversationParticipant{ConversationID: conv.ID, ParticipantID: participantID}
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "participant_id"}},
			DoNothing: true,
		}).Create(&join).Error
		if err != nil {
			return inserted, fmt.Errorf("failed to join participant %d to conversation %d: %w", participantID, conv.ID, err)
		}
	}

	var count int64
	if err := s.db.Model(&models.Message{}).Where("conversation_id = ?", conv.ID).Count(&count).Error; err != nil {
		return inserted, fmt.Errorf("failed to count conversation messages: %w", err)
	}
	conv.MessageCount = int(count)
	if err := s.db.Model(conv).Updates(map[string]interface{}{
		"message_count":   conv.MessageCount,
		"last_message_at": conv.LastMessageAt,
	}).Error; err != nil {
		return inserted, fmt.Errorf("failed to update conversation counters: %w", err)
	}

	return inserted, nil
}

// advanceStatus moves an already-stored message's delivery state forward
// when a later sync reports one. Regressions and lookup failures are
// ignored; the stored status only ever moves forward.
func (s *MessageStore) advanceStatus(conversationID uint, externalID string, status models.MessageStatus) {
	var existing models.Message
	err := s.db.Select("id", "status").
		Where("conversation_id = ? AND external_message_id = ?", conversationID, externalID).
		First(&existing).Error
	if err != nil {
		log.Warn().Err(err).Str("externalMessageID", externalID).Msg("Failed to load message for status advance")
		return
	}
	if !status.Advances(existing.Status) {
		return
	}
	if err := s.db.Model(&models.Message{}).Where("id = ?", existing.ID).Update("status", status).Error; err != nil {
		log.Warn().Err(err).Str("externalMessageID", externalID).Msg("Failed to advance message status")
	}
}
