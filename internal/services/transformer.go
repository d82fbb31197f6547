package services

import (
	"strings"
	"time"

	"crmsync/internal/adapters/provider"
	"crmsync/internal/models"
)

// ConversationData is the canonical conversation shape produced by the
// transformer. Raw provider maps never travel past this boundary.
type ConversationData struct {
	ExternalThreadID string
	Subject          string
	LastMessageAt    *time.Time
	UnreadCount      int
	Metadata         map[string]interface{}
}

// MessageData is the canonical message shape.
type MessageData struct {
	ExternalMessageID    string
	Direction            models.MessageDirection
	Status               models.MessageStatus
	Body                 string
	SentAt               *time.Time
	SenderIdentifier     string
	SenderIdentifierType models.IdentifierType
	SenderName           string
	SenderPhone          string
	SenderProviderID     string
	SenderAttendeeID     string
	IsAccountOwner       bool
	Metadata             map[string]interface{}
}

// The transformer functions are total: provider data is untrusted, so
// missing or oddly-typed fields map to defaults instead of errors.

// ConversationFromChat maps a raw messaging chat into canonical form.
func ConversationFromChat(chatID string, raw provider.RawItem) ConversationData {
	data := ConversationData{
		ExternalThreadID: chatID,
		UnreadCount:      int(raw.Num("unread_count")),
		Metadata:         map[string]interface{}{},
	}
	if data.ExternalThreadID == "" {
		data.ExternalThreadID = raw.Str("id")
	}
	data.Subject = raw.Str("subject")
	if data.Subject == "" {
		data.Subject = raw.Str("name")
	}
	data.LastMessageAt = parseTimestamp(raw["timestamp"])
	if data.LastMessageAt == nil {
		data.LastMessageAt = parseTimestamp(raw["last_message_at"])
	}
	if accountType := raw.Str("account_type"); accountType != "" {
		data.Metadata["account_type"] = accountType
	}
	if muted := raw.Bool("muted"); muted {
		data.Metadata["muted"] = true
	}
	return data
}

// MessageFromChat maps a raw messaging-channel message into canonical
// form. Sender attribution is refined afterwards by the enricher.
func MessageFromChat(raw provider.RawItem) MessageData {
	msg := MessageData{
		ExternalMessageID: raw.Str("id"),
		Status:            models.MessageStatusSent,
		Body:              raw.Str("text"),
		SentAt:            parseTimestamp(raw["timestamp"]),
		IsAccountOwner:    raw.Bool("is_sender"),
		Metadata:          map[string]interface{}{},
	}
	if msg.Body == "" {
		msg.Body = raw.Str("body")
	}
	if msg.IsAccountOwner {
		msg.Direction = models.DirectionOutbound
	} else {
		msg.Direction = models.DirectionInbound
	}
	if status := messageStatus(raw.Str("status")); status != "" {
		msg.Status = status
	}

	sender := raw.Map("sender")
	if sender != nil {
		msg.SenderName = sender.Str("name")
		msg.SenderPhone = digitsOnly(sender.Str("phone"))
		msg.SenderProviderID = sender.Str("provider_id")
		msg.SenderAttendeeID = sender.Str("attendee_id")
	} else {
		msg.SenderAttendeeID = raw.Str("sender_attendee_id")
		msg.SenderProviderID = raw.Str("sender_id")
	}

	switch {
	case msg.SenderPhone != "":
		msg.SenderIdentifier = msg.SenderPhone
		msg.SenderIdentifierType = models.IdentifierPhone
	case msg.SenderProviderID != "":
		msg.SenderIdentifier = msg.SenderProviderID
		msg.SenderIdentifierType = models.IdentifierOther
	case msg.SenderAttendeeID != "":
		msg.SenderIdentifier = msg.SenderAttendeeID
		msg.SenderIdentifierType = models.IdentifierOther
	}

	if attachments, ok := raw["attachments"].([]interface{}); ok && len(attachments) > 0 {
		msg.Metadata["attachment_count"] = len(attachments)
	}
	return msg
}

// ConversationFromEmailThread maps one grouped email thread into
// canonical form. Subject and recency come from the newest message.
func ConversationFromEmailThread(threadID string, rawMessages []provider.RawItem) ConversationData {
	data := ConversationData{
		ExternalThreadID: threadID,
		Metadata:         map[string]interface{}{"message_source": "email"},
	}
	for _, raw := range rawMessages {
		sentAt := parseTimestamp(raw["date"])
		if sentAt != nil && (data.LastMessageAt == nil || sentAt.After(*data.LastMessageAt)) {
			data.LastMessageAt = sentAt
			data.Subject = raw.Str("subject")
		}
		if data.Subject == "" {
			data.Subject = raw.Str("subject")
		}
		if raw.Bool("unread") {
			data.UnreadCount++
		}
	}
	return data
}

// MessageFromEmail maps a raw email into canonical form. ownerAddress is
// the synced account's own address and decides direction.
func MessageFromEmail(raw provider.RawItem, ownerAddress string) MessageData {
	msg := MessageData{
		ExternalMessageID: raw.Str("id"),
		Status:            models.MessageStatusDelivered,
		SentAt:            parseTimestamp(raw["date"]),
		Metadata:          map[string]interface{}{},
	}
	msg.Body = raw.Str("body")
	if msg.Body == "" {
		msg.Body = raw.Str("snippet")
	}

	fromAddress, fromName := emailAddressParts(raw["from"])
	msg.SenderIdentifier = strings.ToLower(fromAddress)
	msg.SenderIdentifierType = models.IdentifierEmail
	msg.SenderName = fromName

	owner := strings.ToLower(strings.TrimSpace(ownerAddress))
	if owner != "" && msg.SenderIdentifier == owner {
		msg.Direction = models.DirectionOutbound
		msg.IsAccountOwner = true
	} else {
		msg.Direction = models.DirectionInbound
	}
	if raw.Bool("unread") {
		msg.Status = models.MessageStatusDelivered
	} else {
		msg.Status = models.MessageStatusRead
	}
	if folder := raw.Str("folder"); folder != "" {
		msg.Metadata["folder"] = folder
	}
	return msg
}

// emailAddressParts reads a from/to entry that may be a bare string or a
// {email, name} object.
func emailAddressParts(raw interface{}) (address, name string) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), ""
	case map[string]interface{}:
		item := provider.RawItem(v)
		return strings.TrimSpace(item.Str("email")), item.Str("name")
	}
	return "", ""
}

func messageStatus(raw string) models.MessageStatus {
	switch raw {
	case "pending":
		return models.MessageStatusPending
	case "sent":
		return models.MessageStatusSent
	case "delivered":
		return models.MessageStatusDelivered
	case "read":
		return models.MessageStatusRead
	case "failed":
		return models.MessageStatusFailed
	}
	return ""
}

// parseTimestamp tolerates RFC3339 strings, unix seconds and unix
// milliseconds. Anything else maps to nil.
func parseTimestamp(raw interface{}) *time.Time {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			t = t.UTC()
			return &t
		}
	case float64:
		if v <= 0 {
			return nil
		}
		var t time.Time
		if v > 1e12 { // milliseconds
			t = time.UnixMilli(int64(v)).UTC()
		} else {
			t = time.Unix(int64(v), 0).UTC()
		}
		return &t
	case int64:
		return parseTimestamp(float64(v))
	case int:
		return parseTimestamp(float64(v))
	}
	return nil
}
