package services

import (
	"crmsync/internal/adapters/provider"
	"crmsync/internal/models"
)

// OwnerIdentity describes the synced account's own identity on a channel.
type OwnerIdentity struct {
	ProviderID  string
	DisplayName string
}

// AttendeeInfo is the lookup record the enricher uses to name a
// counterpart sender.
type AttendeeInfo struct {
	Phone      string
	ProviderID string
	AttendeeID string
	Name       string
}

// BuildAttendeeInfoMap indexes resolved attendees by phone, provider ID
// and attendee ID for the enricher's priority lookup.
func BuildAttendeeInfoMap(attendees map[string]ResolvedAttendee) map[string]AttendeeInfo {
	info := make(map[string]AttendeeInfo, len(attendees)*2)
	for _, attendee := range attendees {
		entry := AttendeeInfo{
			Phone:      digitsOnly(attendee.Identifier),
			ProviderID: attendee.ProviderID,
			AttendeeID: attendee.AttendeeID,
			Name:       attendee.Name,
		}
		if entry.Phone != "" {
			info["phone:"+entry.Phone] = entry
		}
		if entry.ProviderID != "" {
			info["provider:"+entry.ProviderID] = entry
		}
		if entry.AttendeeID != "" {
			info["attendee:"+entry.AttendeeID] = entry
		}
	}
	return info
}

// MergeAttendeeInfo folds provider attendee objects (e.g. the member list
// of a group chat) into an existing lookup map. Entries resolved from the
// record's own identifiers take precedence.
func MergeAttendeeInfo(info map[string]AttendeeInfo, attendees []provider.Attendee) {
	for _, attendee := range attendees {
		entry := AttendeeInfo{
			Phone:      digitsOnly(attendee.Phone),
			ProviderID: attendee.ProviderID,
			AttendeeID: attendee.ID,
			Name:       attendee.Name,
		}
		if entry.Phone != "" {
			if _, ok := info["phone:"+entry.Phone]; !ok {
				info["phone:"+entry.Phone] = entry
			}
		}
		if entry.ProviderID != "" {
			if _, ok := info["provider:"+entry.ProviderID]; !ok {
				info["provider:"+entry.ProviderID] = entry
			}
		}
		if entry.AttendeeID != "" {
			if _, ok := info["attendee:"+entry.AttendeeID]; !ok {
				info["attendee:"+entry.AttendeeID] = entry
			}
		}
	}
}

// EnrichMessages fills in sender identity for messages that lack explicit
// attendee data. Account-owner messages get the owner's display name;
// counterpart messages are named via the attendee-info lookup by phone,
// then provider ID, then attendee ID — first match wins. A missed lookup
// falls back to an empty name, so downstream naming degrades to the bare
// identifier.
func EnrichMessages(messages []MessageData, _ models.ChannelType, owner OwnerIdentity, attendeeInfo map[string]AttendeeInfo) []MessageData {
	for i := range messages {
		msg := &messages[i]

		if !msg.IsAccountOwner && owner.ProviderID != "" && msg.SenderProviderID == owner.ProviderID {
			msg.IsAccountOwner = true
			msg.Direction = models.DirectionOutbound
		}

		if msg.IsAccountOwner {
			msg.Direction = models.DirectionOutbound
			if msg.SenderName == "" {
				msg.SenderName = owner.DisplayName
			}
			if msg.SenderProviderID == "" {
				msg.SenderProviderID = owner.ProviderID
			}
			continue
		}

		if msg.SenderName != "" {
			continue
		}
		if info, ok := lookupAttendee(msg, attendeeInfo); ok {
			msg.SenderName = info.Name
			if msg.SenderProviderID == "" {
				msg.SenderProviderID = info.ProviderID
			}
			if msg.SenderIdentifier == "" && info.Phone != "" {
				msg.SenderIdentifier = info.Phone
				msg.SenderIdentifierType = models.IdentifierPhone
			}
		}
	}
	return messages
}

func lookupAttendee(msg *MessageData, attendeeInfo map[string]AttendeeInfo) (AttendeeInfo, bool) {
	if msg.SenderPhone != "" {
		if info, ok := attendeeInfo["phone:"+msg.SenderPhone]; ok {
			return info, true
		}
	}
	if msg.SenderProviderID != "" {
		if info, ok := attendeeInfo["provider:"+msg.SenderProviderID]; ok {
			return info, true
		}
	}
	if msg.SenderAttendeeID != "" {
		if info, ok := attendeeInfo["attendee:"+msg.SenderAttendeeID]; ok {
			return info, true
		}
	}
	return AttendeeInfo{}, false
}
