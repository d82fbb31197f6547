package services

import (
	"fmt"

	"gorm.io/gorm"

	"crmsync/internal/models"
)

// MetricsUpdater recomputes a record's aggregate counters from the
// current linked-conversation set. Counters are not trusted
// incrementally across long spans; a full recomputation after every sync
// corrects drift left behind by partial failures.
type MetricsUpdater struct {
	db *gorm.DB
}

// NewMetricsUpdater creates a MetricsUpdater.
func NewMetricsUpdater(db *gorm.DB) (*MetricsUpdater, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil for MetricsUpdater")
	}
	return &MetricsUpdater{db: db}, nil
}

// Recompute counts the record's conversations, messages and unread
// messages and writes them into the profile.
func (m *MetricsUpdater) Recompute(recordID string) (conversations, messages, unread int, err error) {
	var convCount int64
	if err = m.db.Model(&models.Conversation{}).Where("record_id = ?", recordID).Count(&convCount).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	var msgCount int64
	err = m.db.Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.record_id = ?", recordID).
		Count(&msgCount).Error
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var unreadTotal struct {
		Total int
	}
	err = m.db.Model(&models.Conversation{}).
		Select("COALESCE(SUM(unread_count), 0) AS total").
		Where("record_id = ?", recordID).
		Scan(&unreadTotal).Error
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to sum unread counts: %w", err)
	}

	err = m.db.Model(&models.CommunicationProfile{}).
		Where("record_id = ?", recordID).
		Updates(map[string]interface{}{
			"total_conversations": int(convCount),
			"total_messages":      int(msgCount),
			"total_unread":        unreadTotal.Total,
		}).Error
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to update profile counters: %w", err)
	}

	return int(convCount), int(msgCount), unreadTotal.Total, nil
}
