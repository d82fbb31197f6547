package models

import (
	"time"
)

// ChannelType identifies one external communication medium.
type ChannelType string

const (
	ChannelGmail     ChannelType = "gmail"
	ChannelOutlook   ChannelType = "outlook"
	ChannelWhatsApp  ChannelType = "whatsapp"
	ChannelLinkedIn  ChannelType = "linkedin"
	ChannelTelegram  ChannelType = "telegram"
	ChannelInstagram ChannelType = "instagram"
)

// IsEmail reports whether the channel syncs through the email path.
func (c ChannelType) IsEmail() bool {
	return c == ChannelGmail || c == ChannelOutlook
}

// IdentifierType categorizes a normalized communication identifier.
type IdentifierType string

const (
	IdentifierEmail    IdentifierType = "email"
	IdentifierPhone    IdentifierType = "phone"
	IdentifierLinkedIn IdentifierType = "linkedin"
	IdentifierDomain   IdentifierType = "domain"
	IdentifierOther    IdentifierType = "other"
)

// Channel is a connected external account (e.g. one Gmail inbox, one
// WhatsApp number) messages are synced from.
type Channel struct {
	ID          uint        `gorm:"primaryKey"`
	AccountID   string      `gorm:"uniqueIndex;comment:Provider-side account identifier"`
	ChannelType ChannelType `gorm:"index"`
	Name        string
	OwnerID     string `gorm:"comment:Provider attendee/user ID of the account owner"`
	OwnerName   string
	Enabled     bool      `gorm:"default:true"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// CommunicationProfile holds the per-record sync state: the extracted
// identifiers, aggregate counters and the in-progress flag. At most one
// profile exists per CRM record.
type CommunicationProfile struct {
	ID       uint   `gorm:"primaryKey"`
	RecordID string `gorm:"uniqueIndex"`

	Identifiers      map[string][]string `gorm:"serializer:json;comment:IdentifierType -> normalized values"`
	IdentifierFields []string            `gorm:"serializer:json;comment:CRM field slugs the identifiers came from"`
	SyncStatus       map[string]string   `gorm:"serializer:json;comment:channel account ID -> last sync outcome"`

	TotalConversations int
	TotalMessages      int
	TotalUnread        int

	LastFullSync    *time.Time
	SyncInProgress  bool `gorm:"default:false"`
	SyncErrorCount  int  `gorm:"default:0"`
	AutoSyncEnabled bool `gorm:"default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// SyncJobStatus is the lifecycle state of one sync attempt.
type SyncJobStatus string

const (
	SyncJobPending   SyncJobStatus = "pending"
	SyncJobRunning   SyncJobStatus = "running"
	SyncJobCompleted SyncJobStatus = "completed"
	SyncJobFailed    SyncJobStatus = "failed"
	SyncJobCancelled SyncJobStatus = "cancelled"
)

// SyncJob tracks one sync attempt for a record. Redelivered queue tasks
// reuse the row matched by TaskHandle instead of creating duplicates;
// completed and cancelled jobs stay terminal, a failed job is re-armed
// when its task is delivered again.
type SyncJob struct {
	ID       string `gorm:"primaryKey"`
	RecordID string `gorm:"index"`

	Status     SyncJobStatus `gorm:"index;default:pending"`
	TaskHandle string        `gorm:"index;comment:External queue delivery handle, used for job reuse on redelivery"`

	TriggeredBy string
	Reason      string
	Channels    []string `gorm:"serializer:json;comment:Requested channel subset, empty = all"`

	ConversationsFound int
	MessagesFound      int
	ChannelsSynced     int
	ChannelsFailed     int

	ErrorDetail string `gorm:"type:text"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Conversation is a provider thread. (ExternalThreadID, ChannelID) is the
// natural key; rows are upserted on every sight.
type Conversation struct {
	ID               uint   `gorm:"primaryKey"`
	ExternalThreadID string `gorm:"uniqueIndex:idx_conversations_thread_channel"`
	ChannelID        uint   `gorm:"uniqueIndex:idx_conversations_thread_channel;index"`
	RecordID         string `gorm:"index;comment:CRM record this thread is attached to"`

	Subject       string
	LastMessageAt *time.Time
	UnreadCount   int
	MessageCount  int

	Metadata map[string]interface{} `gorm:"serializer:json"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// MessageDirection distinguishes inbound from outbound messages.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageStatus is the delivery state of a message. Happy-path transitions
// are monotonic (pending -> sent -> delivered -> read); failed can be
// reached from any non-terminal state.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

var messageStatusRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// Advances reports whether moving from prev to s is a legal forward
// transition: strictly forward along the happy path, or into failed from
// any state short of read. Everything else is a regression and ignored.
func (s MessageStatus) Advances(prev MessageStatus) bool {
	if s == prev {
		return false
	}
	if s == MessageStatusFailed {
		return prev != MessageStatusRead && prev != MessageStatusFailed
	}
	if prev == MessageStatusFailed {
		return false
	}
	return messageStatusRank[s] > messageStatusRank[prev]
}

// Message belongs to exactly one conversation and one channel.
// ExternalMessageID is the provider key, unique within a conversation.
type Message struct {
	ID                uint   `gorm:"primaryKey"`
	ConversationID    uint   `gorm:"uniqueIndex:idx_messages_conv_external;index"`
	ChannelID         uint   `gorm:"index"`
	ExternalMessageID string `gorm:"uniqueIndex:idx_messages_conv_external"`

	Direction MessageDirection `gorm:"index"`
	Status    MessageStatus    `gorm:"default:sent"`

	Body       string `gorm:"type:text"`
	SenderName string
	SentAt     *time.Time `gorm:"index"`

	SenderParticipantID *uint
	SenderParticipant   *Participant `gorm:"foreignKey:SenderParticipantID"`

	Metadata map[string]interface{} `gorm:"serializer:json"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Participant is a canonical cross-channel communication identity,
// independent of any one conversation. It may be linked to a CRM record
// two ways: ContactRecordID (primary, "is this person") and
// SecondaryRecordID (contextual, e.g. company via email domain). Both
// links are write-once.
type Participant struct {
	ID             uint           `gorm:"primaryKey"`
	Identifier     string         `gorm:"uniqueIndex:idx_participants_identifier"`
	IdentifierType IdentifierType `gorm:"uniqueIndex:idx_participants_identifier"`
	DisplayName    string

	ContactRecordID   *string `gorm:"index"`
	SecondaryRecordID *string `gorm:"index"`
	LinkConfidence    float64
	LinkMethod        string

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// ConversationParticipant joins participants to the conversations they
// appear in.
type ConversationParticipant struct {
	ID             uint `gorm:"primaryKey"`
	ConversationID uint `gorm:"uniqueIndex:idx_conv_participants;index"`
	ParticipantID  uint `gorm:"uniqueIndex:idx_conv_participants;index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// AttendeeMapping caches a resolved (record, channel, provider attendee)
// triple so repeat syncs skip the resolution call. Unique per
// (record, attendee, channel type).
type AttendeeMapping struct {
	ID          uint        `gorm:"primaryKey"`
	RecordID    string      `gorm:"uniqueIndex:idx_attendee_mappings"`
	AttendeeID  string      `gorm:"uniqueIndex:idx_attendee_mappings"`
	ChannelType ChannelType `gorm:"uniqueIndex:idx_attendee_mappings"`

	ProviderID string `gorm:"comment:Channel-specific address, e.g. 15551234567@s.whatsapp.net"`
	Identifier string `gorm:"comment:The normalized identifier that produced the match"`
	Name       string

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// AllModels lists every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&Channel{},
		&CommunicationProfile{},
		&SyncJob{},
		&Conversation{},
		&Message{},
		&Participant{},
		&ConversationParticipant{},
		&AttendeeMapping{},
	}
}
